package pake

import "testing"

func TestExchangeMatchingPasswordsDeriveComplementaryKeys(t *testing.T) {
	fpActive := [32]byte{1}
	fpPassive := [32]byte{2}

	active, err := Start("hunter2", "default", 100, 200)
	if err != nil {
		t.Fatalf("active start: %v", err)
	}
	passive, err := Start("hunter2", "default", 200, 100)
	if err != nil {
		t.Fatalf("passive start: %v", err)
	}

	activeResult, err := active.Finish(passive.PublicShare(), true, fpActive, fpPassive)
	if err != nil {
		t.Fatalf("active finish: %v", err)
	}
	passiveResult, err := passive.Finish(active.PublicShare(), false, fpPassive, fpActive)
	if err != nil {
		t.Fatalf("passive finish: %v", err)
	}

	if activeResult.SealingKey != passiveResult.OpeningKey {
		t.Fatalf("active sealing key != passive opening key")
	}
	if activeResult.OpeningKey != passiveResult.SealingKey {
		t.Fatalf("active opening key != passive sealing key")
	}
	if activeResult.SealingNonce != passiveResult.OpeningNonce {
		t.Fatalf("active sealing nonce != passive opening nonce")
	}
}

func TestExchangeWrongPasswordDoesNotMatch(t *testing.T) {
	fpActive := [32]byte{1}
	fpPassive := [32]byte{2}

	active, err := Start("hunter2", "default", 100, 200)
	if err != nil {
		t.Fatalf("active start: %v", err)
	}
	passive, err := Start("wrong-password", "default", 200, 100)
	if err != nil {
		t.Fatalf("passive start: %v", err)
	}

	activeResult, err := active.Finish(passive.PublicShare(), true, fpActive, fpPassive)
	if err != nil {
		// A mismatched generator can also legitimately surface as a
		// failed exchange outright.
		return
	}
	passiveResult, err := passive.Finish(active.PublicShare(), false, fpPassive, fpActive)
	if err != nil {
		return
	}
	if activeResult.SealingKey == passiveResult.OpeningKey {
		t.Fatalf("wrong password unexpectedly produced matching keys")
	}
}
