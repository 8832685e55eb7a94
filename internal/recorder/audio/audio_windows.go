//go:build windows

package audio

import (
	"fmt"
	"runtime"
	"syscall"
	"time"
	"unsafe"
)

// COM plumbing grounded on the teacher's comutil_windows.go (comGUID,
// lazy-DLL proc caching, generic vtable call-through syscall.SyscallN) and
// audio_windows.go's WASAPI sequence (MMDeviceEnumerator ->
// GetDefaultAudioEndpoint -> IAudioClient::Initialize in loopback+shared
// mode -> IAudioCaptureClient), adapted from the teacher's downsample-to-
// mono-8kHz-mulaw framing to this pipeline's stereo s16le passthrough: a
// mix format already s16 48kHz stereo is copied through untouched, a
// float32 mix format is converted sample-by-sample to s16le.

type comGUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

var (
	ole32         = syscall.NewLazyDLL("ole32.dll")
	procCoInitEx  = ole32.NewProc("CoInitializeEx")
	procCoCreate  = ole32.NewProc("CoCreateInstance")
	procCoUninit  = ole32.NewProc("CoUninitialize")
	procCoTaskMem = ole32.NewProc("CoTaskMemFree")

	clsidMMDeviceEnumerator = comGUID{0xBCDE0395, 0xE52F, 0x467C, [8]byte{0x8E, 0x3D, 0xC4, 0x57, 0x92, 0x91, 0x69, 0x2E}}
	iidIMMDeviceEnumerator  = comGUID{0xA95664D2, 0x9614, 0x4F35, [8]byte{0xA7, 0x46, 0xDE, 0x8D, 0xB6, 0x36, 0x17, 0xE6}}
	iidIAudioClient         = comGUID{0x1CB9AD4C, 0xDBFA, 0x4c32, [8]byte{0xB1, 0x78, 0xC2, 0xF5, 0x68, 0xA7, 0x03, 0xB2}}
	iidIAudioCaptureClient  = comGUID{0xC8ADBD64, 0xE71E, 0x48a0, [8]byte{0xA4, 0xDE, 0x18, 0x5C, 0x39, 0x5C, 0xD3, 0x17}}
)

const (
	clsctxAll              = 23
	eRender                = 0
	eConsole               = 0
	audclntStreamflagsLoopback       = 0x00020000
	audclntStreamflagsEventCallback  = 0x00040000
	audclntShareModeShared           = 0
	audioSessionStateActive          = 1
	waveFormatExtensible             = 0xFFFE
	waveFormatIEEEFloat              = 3
	waveFormatPCM                    = 1
	refTimesPerSec          int64    = 10_000_000
)

type waveFormatEx struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	Size           uint16
}

// comCall invokes a vtable slot at index idx against a COM object with up to
// 6 additional arguments, following the teacher's comCall helper shape.
func comCall(obj unsafe.Pointer, idx int, args ...uintptr) (uintptr, uintptr, syscall.Errno) {
	vtbl := *(*uintptr)(obj)
	fn := *(*uintptr)(unsafe.Pointer(vtbl + uintptr(idx)*unsafe.Sizeof(uintptr(0))))
	a := make([]uintptr, 0, 8)
	a = append(a, uintptr(obj))
	a = append(a, args...)
	switch len(a) {
	case 1:
		return syscall.SyscallN(fn, a[0])
	case 2:
		return syscall.SyscallN(fn, a[0], a[1])
	case 3:
		return syscall.SyscallN(fn, a[0], a[1], a[2])
	case 4:
		return syscall.SyscallN(fn, a[0], a[1], a[2], a[3])
	default:
		return syscall.SyscallN(fn, a...)
	}
}

func comRelease(obj unsafe.Pointer) {
	if obj != nil {
		comCall(obj, 2) // IUnknown::Release
	}
}

// wasapiSource implements the audio package's source interface over a
// shared-mode loopback capture client.
type wasapiSource struct {
	enumerator   unsafe.Pointer
	device       unsafe.Pointer
	audioClient  unsafe.Pointer
	captureClient unsafe.Pointer
	mixFormat    *waveFormatEx
	eventHandle  syscall.Handle
}

func openLoopbackSource() (source, error) {
	runtime.LockOSThread()

	if hr, _, _ := procCoInitEx.Call(0, 0 /* COINIT_MULTITHREADED */); hr != 0 && hr != 1 {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("CoInitializeEx failed: hr=0x%x", hr)
	}

	s := &wasapiSource{}
	if err := s.open(); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *wasapiSource) open() error {
	var enumerator unsafe.Pointer
	hr, _, _ := procCoCreate.Call(
		uintptr(unsafe.Pointer(&clsidMMDeviceEnumerator)),
		0,
		clsctxAll,
		uintptr(unsafe.Pointer(&iidIMMDeviceEnumerator)),
		uintptr(unsafe.Pointer(&enumerator)),
	)
	if hr != 0 {
		return fmt.Errorf("CoCreateInstance(MMDeviceEnumerator) failed: hr=0x%x", hr)
	}
	s.enumerator = enumerator

	var device unsafe.Pointer
	// IMMDeviceEnumerator::GetDefaultAudioEndpoint(eRender, eConsole, &device)
	if hr, _, _ := comCall(s.enumerator, 4, eRender, eConsole, uintptr(unsafe.Pointer(&device))); hr != 0 {
		return fmt.Errorf("GetDefaultAudioEndpoint failed: hr=0x%x", hr)
	}
	s.device = device

	var audioClient unsafe.Pointer
	// IMMDevice::Activate(IID_IAudioClient, CLSCTX_ALL, nil, &audioClient)
	if hr, _, _ := comCall(s.device, 3,
		uintptr(unsafe.Pointer(&iidIAudioClient)), clsctxAll, 0,
		uintptr(unsafe.Pointer(&audioClient))); hr != 0 {
		return fmt.Errorf("IMMDevice::Activate(IAudioClient) failed: hr=0x%x", hr)
	}
	s.audioClient = audioClient

	var mixFormat *waveFormatEx
	// IAudioClient::GetMixFormat(&mixFormat)
	if hr, _, _ := comCall(s.audioClient, 8, uintptr(unsafe.Pointer(&mixFormat))); hr != 0 {
		return fmt.Errorf("GetMixFormat failed: hr=0x%x", hr)
	}
	s.mixFormat = mixFormat

	bufferDuration := refTimesPerSec / 2 // 500ms buffer
	// IAudioClient::Initialize(shared, loopback|event-callback, bufferDuration, 0, mixFormat, nil)
	if hr, _, _ := comCall(s.audioClient, 3,
		audclntShareModeShared, audclntStreamflagsLoopback|audclntStreamflagsEventCallback,
		uintptr(bufferDuration), 0,
		uintptr(unsafe.Pointer(mixFormat)), 0); hr != 0 {
		return fmt.Errorf("IAudioClient::Initialize failed: hr=0x%x", hr)
	}

	evt, err := createManualResetEvent()
	if err != nil {
		return err
	}
	s.eventHandle = evt
	// IAudioClient::SetEventHandle(eventHandle)
	if hr, _, _ := comCall(s.audioClient, 10, uintptr(evt)); hr != 0 {
		return fmt.Errorf("SetEventHandle failed: hr=0x%x", hr)
	}

	var captureClient unsafe.Pointer
	// IAudioClient::GetService(IID_IAudioCaptureClient, &captureClient)
	if hr, _, _ := comCall(s.audioClient, 14,
		uintptr(unsafe.Pointer(&iidIAudioCaptureClient)),
		uintptr(unsafe.Pointer(&captureClient))); hr != 0 {
		return fmt.Errorf("GetService(IAudioCaptureClient) failed: hr=0x%x", hr)
	}
	s.captureClient = captureClient

	// IAudioClient::Start()
	if hr, _, _ := comCall(s.audioClient, 11); hr != 0 {
		return fmt.Errorf("IAudioClient::Start failed: hr=0x%x", hr)
	}

	return nil
}

func (s *wasapiSource) nextPacket() ([]byte, error) {
	if s.captureClient == nil {
		return nil, fmt.Errorf("capture client not initialized")
	}

	var framesAvailable uint32
	var flags uint32
	// IAudioCaptureClient::GetBuffer returns a data pointer and frame count.
	var dataPtr unsafe.Pointer
	var devicePos uint64
	var qpcPos uint64
	hr, _, _ := comCall(s.captureClient, 3,
		uintptr(unsafe.Pointer(&dataPtr)),
		uintptr(unsafe.Pointer(&framesAvailable)),
		uintptr(unsafe.Pointer(&flags)),
		uintptr(unsafe.Pointer(&devicePos)),
		uintptr(unsafe.Pointer(&qpcPos)))
	const audclntSBufferEmpty = 0x08890001
	if hr == audclntSBufferEmpty {
		return nil, nil
	}
	if hr != 0 {
		return nil, fmt.Errorf("GetBuffer failed: hr=0x%x", hr)
	}

	if framesAvailable == 0 {
		comCall(s.captureClient, 4, 0)
		return nil, nil
	}

	out := s.copyAndConvert(dataPtr, framesAvailable, flags)

	// IAudioCaptureClient::ReleaseBuffer(framesAvailable)
	comCall(s.captureClient, 4, uintptr(framesAvailable))

	return out, nil
}

const audclntBufferflagsSilent = 0x2

func (s *wasapiSource) copyAndConvert(dataPtr unsafe.Pointer, frames, flags uint32) []byte {
	channels := int(s.mixFormat.Channels)
	if channels == 0 {
		channels = Channels
	}

	if flags&audclntBufferflagsSilent != 0 {
		return make([]byte, int(frames)*channels*BytesPerSample)
	}

	if s.mixFormat.FormatTag == waveFormatPCM && s.mixFormat.BitsPerSample == 16 && channels == Channels {
		n := int(frames) * channels * BytesPerSample
		buf := make([]byte, n)
		src := unsafe.Slice((*byte)(dataPtr), n)
		copy(buf, src)
		return buf
	}

	// float32 mix format (the common WASAPI default): convert to s16le.
	samples := int(frames) * channels
	src := unsafe.Slice((*float32)(dataPtr), samples)
	out := make([]byte, samples*BytesPerSample)
	for i, f := range src {
		v := f
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		s16 := int16(v * 32767)
		out[i*2] = byte(s16)
		out[i*2+1] = byte(s16 >> 8)
	}
	return out
}

func (s *wasapiSource) waitEvent(timeout time.Duration) {
	if s.eventHandle == 0 {
		time.Sleep(timeout)
		return
	}
	waitForSingleObject(s.eventHandle, uint32(timeout.Milliseconds()))
}

func (s *wasapiSource) close() {
	if s.audioClient != nil {
		comCall(s.audioClient, 12) // IAudioClient::Stop
	}
	comRelease(s.captureClient)
	comRelease(s.audioClient)
	comRelease(s.device)
	comRelease(s.enumerator)
	if s.mixFormat != nil {
		procCoTaskMem.Call(uintptr(unsafe.Pointer(s.mixFormat)))
	}
	if s.eventHandle != 0 {
		closeHandle(s.eventHandle)
	}
	procCoUninit.Call()
	runtime.UnlockOSThread()
}

var (
	kernel32               = syscall.NewLazyDLL("kernel32.dll")
	procCreateEventW       = kernel32.NewProc("CreateEventW")
	procWaitForSingleObj   = kernel32.NewProc("WaitForSingleObject")
	procCloseHandle        = kernel32.NewProc("CloseHandle")
)

func createManualResetEvent() (syscall.Handle, error) {
	h, _, err := procCreateEventW.Call(0, 1, 0, 0)
	if h == 0 {
		return 0, fmt.Errorf("CreateEventW failed: %w", err)
	}
	return syscall.Handle(h), nil
}

func waitForSingleObject(h syscall.Handle, timeoutMs uint32) {
	procWaitForSingleObj.Call(uintptr(h), uintptr(timeoutMs))
}

func closeHandle(h syscall.Handle) {
	procCloseHandle.Call(uintptr(h))
}
