package registry

import "testing"

func TestInsertRejectsDuplicate(t *testing.T) {
	r := New()
	key := Key{LocalID: 100, RemoteID: 200, Role: RoleActive}

	if err := r.Insert(key, "session-1"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := r.Insert(key, "session-2"); err != ErrDuplicate {
		t.Fatalf("second insert err = %v, want ErrDuplicate", err)
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
}

func TestRemoveThenReinsertSucceeds(t *testing.T) {
	r := New()
	key := Key{LocalID: 100, RemoteID: 200, Role: RoleActive}

	if err := r.Insert(key, "session-1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	r.Remove(key)
	if err := r.Insert(key, "session-2"); err != nil {
		t.Fatalf("reinsert after remove: %v", err)
	}
}

func TestSameIDsDifferentRoleDoNotConflict(t *testing.T) {
	r := New()
	active := Key{LocalID: 100, RemoteID: 200, Role: RoleActive}
	passive := Key{LocalID: 100, RemoteID: 200, Role: RolePassive}

	if err := r.Insert(active, "as-active"); err != nil {
		t.Fatalf("insert active: %v", err)
	}
	if err := r.Insert(passive, "as-passive"); err != nil {
		t.Fatalf("insert passive: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}
}

func TestWithRunsFnUnderLock(t *testing.T) {
	r := New()
	key := Key{LocalID: 1, RemoteID: 2}
	_ = r.Insert(key, 42)

	var seen int
	ok := r.With(key, func(session any) {
		seen = session.(int)
	})
	if !ok || seen != 42 {
		t.Fatalf("With ok=%v seen=%d, want true,42", ok, seen)
	}

	if r.With(Key{LocalID: 9, RemoteID: 9}, func(any) {}) {
		t.Fatalf("With on missing key should return false")
	}
}
