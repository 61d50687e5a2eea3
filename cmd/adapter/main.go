// Command adapter runs the adapter-side runtime: it completes the
// HELLO/CONFIG/ACK handshake over whatever transport it is given, resolves
// the requested kernel, and runs the window loop until the harness closes
// the transport or a fatal protocol error fires.
package main

import (
	"encoding/binary"
	"flag"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/m-lab/go/rtx"

	"github.com/cortexbench/cortex/adapter"
	"github.com/cortexbench/cortex/kernel"
	_ "github.com/cortexbench/cortex/kernel/kernels"
	"github.com/cortexbench/cortex/transport"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	transportURI = flag.String("transport", "local://", "transport URI this adapter is reached on")
	adapterID    = flag.String("adapter-id", "cortex-adapter", "identifier advertised in HELLO")
)

// newBootID derives a boot id from a random UUID rather than the process id,
// so restarts of the same binary on the same host still advertise distinct
// boot ids in HELLO (a changed boot_id marks a restarted adapter).
func newBootID() uint64 {
	id := uuid.New()
	return binary.LittleEndian.Uint64(id[:8])
}

func main() {
	flag.Parse()

	t, err := transport.Dial(*transportURI, transport.SideAdapter)
	rtx.Must(err, "could not construct transport for %q", *transportURI)

	rt := adapter.NewRuntime(*adapterID, newBootID(), t, kernel.Registered())
	if err := rt.Run(); err != nil {
		log.Printf("adapter: run ended with error: %v", err)
		os.Exit(1)
	}
}
