//go:build windows

package desktop

import (
	"fmt"
	"strconv"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	procEnumDisplayDevicesW  = user32.NewProc("EnumDisplayDevicesW")
	procEnumDisplaySettingsW = user32.NewProc("EnumDisplaySettingsW")
)

const (
	displayDeviceActive        = 0x00000001
	displayDevicePrimaryDevice = 0x00000004
	enumCurrentSettings        = 0xFFFFFFFF
)

type displayDeviceW struct {
	Cb           uint32
	DeviceName   [32]uint16
	DeviceString [128]uint16
	StateFlags   uint32
	DeviceID     [128]uint16
	DeviceKey    [128]uint16
}

type devModeW struct {
	DeviceName       [32]uint16
	SpecVersion      uint16
	DriverVersion    uint16
	Size             uint16
	DriverExtra      uint16
	Fields           uint32
	PositionX        int32
	PositionY        int32
	DisplayOrient    uint32
	DisplayFixedOut  uint32
	Color            int16
	Duplex           int16
	YResolution      int16
	TTOption         int16
	Collate          int16
	FormName         [32]uint16
	LogPixels        uint16
	BitsPerPel       uint32
	PelsWidth        uint32
	PelsHeight       uint32
	DisplayFlags     uint32
	DisplayFrequency uint32
	_                [32]byte // ICM/panning tail, unused here; total size 220 matches DEVMODEW
}

// ListMonitors enumerates attached displays with their mode (resolution,
// refresh rate, virtual desktop position).
func ListMonitors() ([]Monitor, error) {
	var monitors []Monitor
	for i := 0; ; i++ {
		var dd displayDeviceW
		dd.Cb = uint32(unsafe.Sizeof(dd))
		ok, _, _ := procEnumDisplayDevicesW.Call(0, uintptr(i),
			uintptr(unsafe.Pointer(&dd)), 0)
		if ok == 0 {
			break
		}
		if dd.StateFlags&displayDeviceActive == 0 {
			continue
		}

		var dm devModeW
		dm.Size = uint16(unsafe.Sizeof(dm))
		ok, _, _ = procEnumDisplaySettingsW.Call(
			uintptr(unsafe.Pointer(&dd.DeviceName[0])),
			uintptr(enumCurrentSettings),
			uintptr(unsafe.Pointer(&dm)))
		if ok == 0 {
			continue
		}

		monitors = append(monitors, Monitor{
			ID:          strconv.Itoa(len(monitors)),
			Name:        windows.UTF16ToString(dd.DeviceName[:]),
			RefreshRate: int(dm.DisplayFrequency),
			Width:       int(dm.PelsWidth),
			Height:      int(dm.PelsHeight),
			X:           int(dm.PositionX),
			Y:           int(dm.PositionY),
			IsPrimary:   dd.StateFlags&displayDevicePrimaryDevice != 0,
		})
	}
	if len(monitors) == 0 {
		return nil, fmt.Errorf("no active displays found")
	}
	return monitors, nil
}
