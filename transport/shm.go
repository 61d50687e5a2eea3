package transport

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ringCapacity is the byte capacity of each direction's ring in a shared-
// memory transport pair. It comfortably holds one chunked window or result
// (MaxWindowBytes) plus slack for in-flight overlap between request and
// response.
const ringCapacity = 512 * 1024

// ringHeaderSize reserves two uint64 cursors (head, tail) ahead of the data
// area. Producer/consumer coordination uses atomic loads and stores on these
// cursors rather than OS semaphores, since both ends of a named POSIX
// semaphore pair are no more portable across this module's target platforms
// than an mmap'd atomic counter, and a counter needs no separate cleanup.
const ringHeaderSize = 16

type ring struct {
	mem []byte // mmap'd: [head uint64][tail uint64][data ringCapacity]byte
}

func (r *ring) head() *uint64 { return (*uint64)(unsafe.Pointer(&r.mem[0])) }
func (r *ring) tail() *uint64 { return (*uint64)(unsafe.Pointer(&r.mem[8])) }
func (r *ring) data() []byte  { return r.mem[ringHeaderSize:] }

func openRing(name string, create bool) (*ring, error) {
	path := "/dev/shm/" + name
	size := int64(ringHeaderSize + ringCapacity)
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0600)
	if err != nil {
		return nil, ioErr(err)
	}
	defer f.Close()
	if create {
		if err := f.Truncate(size); err != nil {
			return nil, ioErr(err)
		}
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, ioErr(err)
	}
	return &ring{mem: mem}, nil
}

func (r *ring) close() error {
	return unix.Munmap(r.mem)
}

// write appends b to the ring, blocking (by short polling) until there is
// room or the deadline passes.
func (r *ring) write(b []byte, deadline time.Time) (int, error) {
	data := r.data()
	cap := uint64(len(data))
	for {
		head := atomic.LoadUint64(r.head())
		tail := atomic.LoadUint64(r.tail())
		used := head - tail
		free := cap - used
		if free > 0 {
			n := uint64(len(b))
			if n > free {
				n = free
			}
			for i := uint64(0); i < n; i++ {
				data[(head+i)%cap] = b[i]
			}
			atomic.StoreUint64(r.head(), head+n)
			return int(n), nil
		}
		if time.Now().After(deadline) {
			return 0, timeoutErr(nil)
		}
		time.Sleep(time.Millisecond)
	}
}

// read copies available bytes into buf, blocking (by short polling) until at
// least one byte is available or the deadline passes.
func (r *ring) read(buf []byte, deadline time.Time) (int, error) {
	data := r.data()
	cap := uint64(len(data))
	for {
		head := atomic.LoadUint64(r.head())
		tail := atomic.LoadUint64(r.tail())
		avail := head - tail
		if avail > 0 {
			n := uint64(len(buf))
			if n > avail {
				n = avail
			}
			for i := uint64(0); i < n; i++ {
				buf[i] = data[(tail+i)%cap]
			}
			atomic.StoreUint64(r.tail(), tail+n)
			return int(n), nil
		}
		if time.Now().After(deadline) {
			return 0, timeoutErr(nil)
		}
		time.Sleep(time.Millisecond)
	}
}

// SHM is the shared-memory ring-pair transport, intended for single-machine
// latency-baseline measurements where even a loopback TCP or local-FD round
// trip would add measurable overhead.
type SHM struct {
	toDevice  *ring // host -> device
	toHarness *ring // device -> host
	name      string
	isHarness bool
}

// OpenSHM opens (and if needed creates) the named ring pair. Both the
// harness and the adapter must use the same name; whichever side arrives
// first creates the backing files.
func OpenSHM(name string, isHarness bool) (*SHM, error) {
	toDevice, err := openRing(fmt.Sprintf("%s.h2d", name), true)
	if err != nil {
		return nil, err
	}
	toHarness, err := openRing(fmt.Sprintf("%s.d2h", name), true)
	if err != nil {
		toDevice.close()
		return nil, err
	}
	return &SHM{toDevice: toDevice, toHarness: toHarness, name: name, isHarness: isHarness}, nil
}

func (t *SHM) sendRing() *ring {
	if t.isHarness {
		return t.toDevice
	}
	return t.toHarness
}

func (t *SHM) recvRing() *ring {
	if t.isHarness {
		return t.toHarness
	}
	return t.toDevice
}

func (t *SHM) Send(b []byte) (int, error) {
	total := 0
	deadline := time.Now().Add(5 * time.Second)
	for total < len(b) {
		n, err := t.sendRing().write(b[total:], deadline)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (t *SHM) Recv(buf []byte, timeoutMS int) (int, error) {
	deadline := time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
	return t.recvRing().read(buf, deadline)
}

func (t *SHM) Close() error {
	err1 := t.toDevice.close()
	err2 := t.toHarness.close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (t *SHM) MonotonicNowNS() uint64 { return monotonicNowNS() }
