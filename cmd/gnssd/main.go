// Command gnssd is the daemon entrypoint: opens a GNSS device, runs the
// hunt-loop session and (unless disabled) the PPS timing thread, and
// serves the debug-only admin surface and diagnostics gRPC feed while
// they run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/gnssd/internal/adminweb"
	"github.com/banshee-data/gnssd/internal/config"
	"github.com/banshee-data/gnssd/internal/driver"
	"github.com/banshee-data/gnssd/internal/driver/ubx"
	"github.com/banshee-data/gnssd/internal/gpstime"
	"github.com/banshee-data/gnssd/internal/pps"
	"github.com/banshee-data/gnssd/internal/rpcfeed"
	"github.com/banshee-data/gnssd/internal/session"
	"github.com/banshee-data/gnssd/internal/store"
	"github.com/banshee-data/gnssd/internal/timepub"
	"github.com/banshee-data/gnssd/internal/units"
	"github.com/banshee-data/gnssd/internal/version"
)

var (
	devicePath  = flag.String("device", "/dev/ttyUSB0", "GNSS serial device to open")
	listen      = flag.String("listen", ":8080", "Debug/admin HTTP listen address")
	grpcListen  = flag.String("grpc-listen", "localhost:50051", "gRPC diagnostics feed listen address")
	configFile  = flag.String("config", config.DefaultDaemonConfigPath, "Path to JSON daemon configuration file")
	dbPathFlag  = flag.String("db-path", "gnssd.db", "Path to sqlite state database")
	unitsFlag   = flag.String("units", "mps", "Speed units for display (mps, mph, kmph)")
	disablePPS  = flag.Bool("disable-pps", false, "Disable the PPS timing thread")
	debugMode   = flag.Bool("debug", false, "Enable verbose diagnostic logging")
	versionFlag = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stdout)

	if *versionFlag {
		fmt.Printf("gnssd v%s (git SHA: %s)\n", version.Version, version.GitSHA)
		os.Exit(0)
	}

	if !units.IsValid(*unitsFlag) {
		log.Fatalf("invalid units %q: valid options are %s", *unitsFlag, units.GetValidUnitsString())
	}

	cfg, err := config.LoadDaemonConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load daemon config from %s: %v", *configFile, err)
	}
	log.Printf("loaded daemon configuration from %s", *configFile)

	db, err := store.NewDB(*dbPathFlag)
	if err != nil {
		log.Fatalf("failed to open state database %s: %v", *dbPathFlag, err)
	}
	defer db.Close()

	reg := driver.NewRegistry()
	reg.Register(ubx.New())
	reg.Freeze()

	driverCtx := driver.NewContext(reg, false)
	driverCtx.ErrOutFn = func(text string) {
		if *debugMode {
			log.Printf("device info: %s", text)
		}
	}

	var latchedBaud int
	if lock, err := db.LastHuntLock(*devicePath); err != nil {
		log.Printf("warning: failed to read last hunt lock: %v", err)
	} else if lock != nil {
		latchedBaud = lock.BaudRate
	}

	sess, err := session.Open(*devicePath, latchedBaud, driverCtx)
	if err != nil {
		log.Fatalf("failed to open device %s: %v", *devicePath, err)
	}
	defer sess.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sess.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("session error: %v", err)
		}
		log.Printf("session routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		recordHuntLockPeriodically(ctx, db, sess)
	}()

	var ppsThread *pps.Thread
	if !*disablePPS {
		ppsThread = startPPSThread(ctx, &wg, cfg, *devicePath, db)
	}

	fixTail := adminweb.NewFixTail()
	defer fixTail.Close()

	publisher := rpcfeed.NewPublisher()

	wg.Add(1)
	go func() {
		defer wg.Done()
		publishFixSnapshots(ctx, sess, fixTail, publisher)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runAdminHTTP(ctx, *listen, sess, ppsThread, fixTail, *unitsFlag); err != nil {
			log.Printf("admin HTTP server error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runRPCFeed(ctx, *grpcListen, publisher); err != nil {
			log.Printf("rpc feed server error: %v", err)
		}
	}()

	wg.Wait()
}

// recordHuntLockPeriodically polls the session for a newly-achieved hunt
// lock and persists it once, so a restart can latch directly onto the
// last-known-good line settings instead of re-hunting from scratch.
func recordHuntLockPeriodically(ctx context.Context, db *store.DB, sess *session.Session) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	recorded := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if recorded || !sess.Locked() {
				continue
			}
			st := sess.Status()
			if err := db.RecordHuntLock(st.DevicePath, st.DriverName, st.BaudRate, st.StopBits, time.Now()); err != nil {
				log.Printf("warning: failed to record hunt lock: %v", err)
				continue
			}
			recorded = true
		}
	}
}

// startPPSThread wires a TIOCMIWAIT edge source against devicePath to a
// pps.Thread, fed by the session's in-band fix time and draining into a
// delta channel that publishes to both SHM and the chrony socket.
func startPPSThread(ctx context.Context, wg *sync.WaitGroup, cfg *config.DaemonConfig, devicePath string, db *store.DB) *pps.Thread {
	src, err := pps.OpenTIOCMIWaitSource(devicePath)
	if err != nil {
		log.Printf("warning: PPS disabled, could not open edge source: %v", err)
		return nil
	}

	inBand := &pps.InBandFix{}
	deltas := make(chan pps.Delta, 4)
	thread := pps.NewThread(src, inBand, deltas)
	thread.OnReject = func(reason string, at time.Time) {
		if err := db.RecordPPSRejection(devicePath, reason, at); err != nil {
			log.Printf("warning: failed to record PPS rejection: %v", err)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer src.Close()
		thread.Run(ctx)
	}()

	segCount := cfg.GetSHMSegmentCount()
	segments := make([]*timepub.Segment, 0, segCount)
	for i := 0; i < segCount; i++ {
		seg, err := timepub.OpenSegment(i)
		if err != nil {
			log.Printf("warning: failed to open SHM segment %d: %v", i, err)
			continue
		}
		segments = append(segments, seg)
	}

	var chronyWriter *timepub.ChronyWriter
	if cfg.GetChronySocketEnabled() {
		w, err := timepub.DialChrony(timepub.ChronySocketPath(deviceBase(devicePath), false))
		if err != nil {
			log.Printf("warning: failed to dial chrony socket: %v", err)
		} else {
			chronyWriter = w
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			for _, seg := range segments {
				seg.Close()
			}
			if chronyWriter != nil {
				chronyWriter.Close()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deltas:
				if !ok {
					return
				}
				for _, seg := range segments {
					timepub.Write(seg, d.Real, d.Clock, timepub.LeapNotify(d.Leap), -1)
				}
				offset := d.Real.Sub(d.Clock)
				if err := db.RecordPPSOffset(devicePath, d.Real.Sec, offset.Nanoseconds(), time.Now()); err != nil {
					log.Printf("warning: failed to record PPS offset: %v", err)
				}
				if chronyWriter != nil {
					if err := chronyWriter.Publish(d.Real, offset, true, timepub.LeapNotify(d.Leap), gpstime.FromTime(time.Now())); err != nil {
						log.Printf("warning: chrony publish failed: %v", err)
					}
				}
			}
		}
	}()

	return thread
}

func deviceBase(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	return base
}

// publishFixSnapshots samples the session's latest fix on a fixed cadence
// and fans it out to both diagnostic surfaces (SSE tail, gRPC feed).
func publishFixSnapshots(ctx context.Context, sess *session.Session, tail *adminweb.FixTail, publisher *rpcfeed.Publisher) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fx := sess.LastFix()
			tail.Publish(fx)
			publisher.Publish(fx)
		}
	}
}

func runAdminHTTP(ctx context.Context, listen string, sess *session.Session, ppsThread *pps.Thread, tail *adminweb.FixTail, speedUnits string) error {
	mux := http.NewServeMux()
	var ppsProvider adminweb.PPSProvider
	if ppsThread != nil {
		ppsProvider = ppsThread
	}
	adminweb.AttachRoutes(mux, sess, ppsProvider, tail, speedUnits)

	server := &http.Server{Addr: listen, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func runRPCFeed(ctx context.Context, listen string, publisher *rpcfeed.Publisher) error {
	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("gnssd: listen %s: %w", listen, err)
	}

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&rpcfeed.ServiceDesc, rpcfeed.NewServer(publisher))

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		grpcServer.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}
