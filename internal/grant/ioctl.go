// ioctl number construction for /dev/xen/gntalloc, the device a
// frontend driver uses to grant its own pages to a peer domain (as
// opposed to /dev/xen/gntdev, which maps *foreign* grants — the
// backend's job, not ours). Built the same way the teacher's uapi
// package builds ublk's ioctl numbers: a generic _IOC encoder plus one
// constant per command.
package grant

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

// gntalloc command numbers, matching Linux's <linux/gntalloc.h>
// layout: type 'G', sized to the corresponding ioctl struct.
const (
	gntallocAllocGrefNr   = 0
	gntallocDeallocGrefNr = 1
	gntallocSetUnmapNotify = 2
)

const (
	sizeofAllocGref   = 24 // domid(u16)+pad(u16)+flags(u32)+count(u32)+index(u64)
	sizeofDeallocGref = 16 // index(u64)+count(u32)+pad(u32)
)

func cmdAllocGref() uint32   { return ioc(iocRead|iocWrite, 'G', gntallocAllocGrefNr, sizeofAllocGref) }
func cmdDeallocGref() uint32 { return ioc(iocRead|iocWrite, 'G', gntallocDeallocGrefNr, sizeofDeallocGref) }
