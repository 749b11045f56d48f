// Command shmmon attaches read-only to an existing NTP shared-memory
// segment (the layout internal/timepub writes) and prints a snapshot of
// its published fields on a fixed interval, for verifying the daemon's
// time-delta publication without a real chrony/ntpd consumer attached.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/gnssd/internal/gpstime"
	"github.com/banshee-data/gnssd/internal/timepub"
)

func main() {
	segIndex := flag.Int("segment", 0, "SHM segment index to monitor (ntpd convention: 0/1 GPS, 2+ PPS)")
	interval := flag.Duration("interval", time.Second, "Polling interval")
	flag.Parse()

	seg, err := timepub.OpenSegment(*segIndex)
	if err != nil {
		log.Fatalf("failed to attach segment %d: %v", *segIndex, err)
	}
	defer seg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Fprintf(os.Stdout, "monitoring SHM segment %d (ctrl-c to stop)\n", seg.Index())

	var lastCount int32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, ok := timepub.Read(seg)
			if !ok {
				fmt.Println("torn read: writer mid-update, skipping this sample")
				continue
			}
			if snap.Count == lastCount {
				fmt.Println("no new publication since last poll")
				continue
			}
			lastCount = snap.Count
			printSnapshot(snap)
		}
	}
}

// snapshotOffset extracts the clock/receive timestamps and their signed
// offset from a raw snapshot.
func snapshotOffset(snap timepub.Snapshot) (clock, receive gpstime.Spec, offset time.Duration) {
	clock = gpstime.Spec{Sec: snap.ClockTimeStampSec, Nsec: int64(snap.ClockTimeStampNSec)}
	receive = gpstime.Spec{Sec: snap.ReceiveTimeStampSec, Nsec: int64(snap.ReceiveTimeStampNSec)}
	return clock, receive, receive.Sub(clock)
}

func printSnapshot(snap timepub.Snapshot) {
	clock, receive, offset := snapshotOffset(snap)
	fmt.Printf("count=%d valid=%d leap=%d precision=%d clock=%s receive=%s offset=%s\n",
		snap.Count, snap.Valid, snap.Leap, snap.Precision, clock, receive, offset)
}
