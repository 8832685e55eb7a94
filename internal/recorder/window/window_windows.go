//go:build windows

package window

import (
	"fmt"
	"syscall"
	"unsafe"
)

// Lazy-loaded DLL procs, following the teacher's comutil_windows.go
// convention of caching NewLazyDLL/NewProc lookups at package init instead
// of per call.
var (
	user32   = syscall.NewLazyDLL("user32.dll")
	kernel32 = syscall.NewLazyDLL("kernel32.dll")

	procIsWindow                 = user32.NewProc("IsWindow")
	procIsIconic                 = user32.NewProc("IsIconic")
	procIsWindowVisible          = user32.NewProc("IsWindowVisible")
	procGetWindowTextW           = user32.NewProc("GetWindowTextW")
	procGetWindowTextLengthW     = user32.NewProc("GetWindowTextLengthW")
	procGetClientRect            = user32.NewProc("GetClientRect")
	procClientToScreen           = user32.NewProc("ClientToScreen")
	procMonitorFromWindow        = user32.NewProc("MonitorFromWindow")
	procGetMonitorInfoW          = user32.NewProc("GetMonitorInfoW")
	procEnumDisplayMonitors      = user32.NewProc("EnumDisplayMonitors")
	procEnumWindows              = user32.NewProc("EnumWindows")
	procGetWindow                = user32.NewProc("GetWindow")
	procGetWindowLongW           = user32.NewProc("GetWindowLongW")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")

	procGetCurrentProcessId = kernel32.NewProc("GetCurrentProcessId")
)

const (
	gwExStyleIndex = -20
	wsExToolWindow = 0x00000080
	gwOwner        = 4
)

type win32Rect struct {
	Left, Top, Right, Bottom int32
}

type win32Point struct {
	X, Y int32
}

type monitorInfoEx struct {
	cbSize    uint32
	rcMonitor win32Rect
	rcWork    win32Rect
	dwFlags   uint32
	szDevice  [32]uint16
}

func findWindowAlive(handle uintptr) bool {
	r, _, _ := procIsWindow.Call(handle)
	return r != 0
}

func iconic(handle uintptr) bool {
	r, _, _ := procIsIconic.Call(handle)
	return r != 0
}

func windowTitle(handle uintptr) string {
	length, _, _ := procGetWindowTextLengthW.Call(handle)
	if length == 0 {
		return ""
	}
	buf := make([]uint16, length+1)
	procGetWindowTextW.Call(handle, uintptr(unsafe.Pointer(&buf[0])), length+1)
	return syscall.UTF16ToString(buf)
}

func isOwnedOrToolWindow(handle uintptr) bool {
	owner, _, _ := procGetWindow.Call(handle, gwOwner)
	if owner != 0 {
		return true
	}
	idx := int32(gwExStyleIndex) // a negative constant cannot convert to uintptr directly
	exStyle, _, _ := procGetWindowLongW.Call(handle, uintptr(idx))
	return exStyle&wsExToolWindow != 0
}

func belongsToThisProcess(handle uintptr) bool {
	var pid uint32
	procGetWindowThreadProcessId.Call(handle, uintptr(unsafe.Pointer(&pid)))
	self, _, _ := procGetCurrentProcessId.Call()
	return uint32(self) == pid
}

// winPlatform implements the window package's platform interface using raw
// user32/kernel32 calls, grounded on the teacher's WASAPI/DXGI COM-call
// plumbing for the lazy-DLL convention even though this package's own calls
// are plain Win32, not COM vtable calls.
type winPlatform struct{}

func (winPlatform) isWindowAlive(handle uintptr) bool {
	return findWindowAlive(handle)
}

func (winPlatform) isIconic(handle uintptr) bool {
	return iconic(handle)
}

func (winPlatform) enumerateTopLevel() []Window {
	var out []Window
	cb := syscall.NewCallback(func(hwnd uintptr, lparam uintptr) uintptr {
		visible, _, _ := procIsWindowVisible.Call(hwnd)
		if visible == 0 {
			return 1
		}
		if isOwnedOrToolWindow(hwnd) {
			return 1
		}
		if belongsToThisProcess(hwnd) {
			return 1
		}
		title := windowTitle(hwnd)
		if title == "" {
			return 1
		}
		out = append(out, Window{Handle: hwnd, Title: title})
		return 1
	})
	procEnumWindows.Call(cb, 0)
	return out
}

func (winPlatform) clientRectOnScreen(handle uintptr) (rect, error) {
	if !findWindowAlive(handle) {
		return rect{}, fmt.Errorf("window handle no longer valid")
	}
	var cr win32Rect
	r, _, err := procGetClientRect.Call(handle, uintptr(unsafe.Pointer(&cr)))
	if r == 0 {
		return rect{}, fmt.Errorf("GetClientRect: %w", err)
	}

	topLeft := win32Point{X: cr.Left, Y: cr.Top}
	bottomRight := win32Point{X: cr.Right, Y: cr.Bottom}
	procClientToScreen.Call(handle, uintptr(unsafe.Pointer(&topLeft)))
	procClientToScreen.Call(handle, uintptr(unsafe.Pointer(&bottomRight)))

	return rect{
		Left:   topLeft.X,
		Top:    topLeft.Y,
		Right:  bottomRight.X,
		Bottom: bottomRight.Y,
	}, nil
}

func (winPlatform) monitorForWindow(handle uintptr) (rect, uint32, error) {
	const monitorDefaultToNearest = 2
	hMonitor, _, _ := procMonitorFromWindow.Call(handle, monitorDefaultToNearest)
	if hMonitor == 0 {
		return rect{}, 0, fmt.Errorf("MonitorFromWindow returned no monitor")
	}

	var info monitorInfoEx
	info.cbSize = uint32(unsafe.Sizeof(info))
	r, _, err := procGetMonitorInfoW.Call(hMonitor, uintptr(unsafe.Pointer(&info)))
	if r == 0 {
		return rect{}, 0, fmt.Errorf("GetMonitorInfoW: %w", err)
	}

	index, err := monitorEnumerationIndex(hMonitor)
	if err != nil {
		return rect{}, 0, err
	}

	return rect{
		Left:   info.rcMonitor.Left,
		Top:    info.rcMonitor.Top,
		Right:  info.rcMonitor.Right,
		Bottom: info.rcMonitor.Bottom,
	}, index, nil
}

func (winPlatform) primaryMonitorRegion() (Region, error) {
	const monitorDefaultToPrimary = 1
	hMonitor, _, _ := procMonitorFromWindow.Call(0, monitorDefaultToPrimary)
	if hMonitor == 0 {
		return Region{}, fmt.Errorf("could not locate primary monitor")
	}

	var info monitorInfoEx
	info.cbSize = uint32(unsafe.Sizeof(info))
	r, _, err := procGetMonitorInfoW.Call(hMonitor, uintptr(unsafe.Pointer(&info)))
	if r == 0 {
		return Region{}, fmt.Errorf("GetMonitorInfoW: %w", err)
	}

	index, err := monitorEnumerationIndex(hMonitor)
	if err != nil {
		return Region{}, err
	}

	width := normalizeDim(info.rcMonitor.Right - info.rcMonitor.Left)
	height := normalizeDim(info.rcMonitor.Bottom - info.rcMonitor.Top)

	return Region{
		OutputIndex: index,
		OffsetX:     0,
		OffsetY:     0,
		Width:       width,
		Height:      height,
	}, nil
}

// monitorEnumerationIndex recovers the stable enumeration-order index of a
// monitor handle by re-running EnumDisplayMonitors, matching the teacher's
// DXGI EnumOutputs index-by-enumeration-order convention for monitor_windows.go.
func monitorEnumerationIndex(target uintptr) (uint32, error) {
	var index uint32
	var found bool
	var i uint32

	cb := syscall.NewCallback(func(hMonitor, hdcMonitor uintptr, lprc uintptr, lparam uintptr) uintptr {
		if hMonitor == target {
			index = i
			found = true
		}
		i++
		return 1
	})
	procEnumDisplayMonitors.Call(0, 0, cb, 0)

	if !found {
		return 0, fmt.Errorf("monitor handle not found during enumeration")
	}
	return index, nil
}

var hooks platform = winPlatform{}
