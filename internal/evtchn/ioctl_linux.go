//go:build linux

package evtchn

// ioctl number construction for /dev/xen/evtchn, built the same way
// the teacher's uapi package builds ublk's: a generic _IOC encoder
// plus one constant per command, matching <linux/xen/evtchn.h>.

const (
	iocWrite = 1
	iocRead  = 2

	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func ioc(dir, typ, nr, size uint32) uint32 {
	return (dir << iocDirShift) | (size << iocSizeShift) | (typ << iocTypeShift) | (nr << iocNrShift)
}

const (
	evtchnBindUnboundPortNr = 2
	evtchnNotifyNr          = 4
	evtchnUnbindNr          = 3
	evtchnResetNr           = 5
)

const (
	sizeofBindUnboundPort = 4 // domid(u16) + pad(u16); port returned via same buffer
	sizeofNotify          = 4 // port(u32)
	sizeofUnbind          = 4 // port(u32)
)

func cmdBindUnboundPort() uint32 {
	return ioc(iocRead|iocWrite, 'E', evtchnBindUnboundPortNr, sizeofBindUnboundPort)
}
func cmdNotify() uint32 { return ioc(iocWrite, 'E', evtchnNotifyNr, sizeofNotify) }
func cmdUnbind() uint32 { return ioc(iocWrite, 'E', evtchnUnbindNr, sizeofUnbind) }
func cmdReset() uint32  { return ioc(0, 'E', evtchnResetNr, 0) }
