// Command gnssdump replays a recorded GNSS byte stream (a raw serial
// capture, or a pcap file when built with -tags=pcap) through the lexer
// and the ubx driver, printing each decoded fix as a JSON line — an
// offline decode/replay tool in the spirit of the teacher's
// pcap-analyse, scoped to this repo's lexer/driver dispatch instead of a
// point-cloud pipeline.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"

	"github.com/banshee-data/gnssd/internal/driver"
	"github.com/banshee-data/gnssd/internal/driver/ubx"
	"github.com/banshee-data/gnssd/internal/fix"
	"github.com/banshee-data/gnssd/internal/lexer"
	"github.com/banshee-data/gnssd/internal/netcapture"
)

func main() {
	inputFile := flag.String("input", "", "Path to a raw serial capture file (required unless -pcap is set)")
	pcapFile := flag.String("pcap", "", "Path to a pcap file to replay instead of a raw capture (requires -tags=pcap)")
	udpPort := flag.Int("pcap-filter-port", 0, "If set, restrict pcap replay to this UDP/TCP port via a BPF filter")
	skyviewToo := flag.Bool("skyview", false, "Also print a skyview JSON line after every EndOfCycle fix")
	flag.Parse()

	if *inputFile == "" && *pcapFile == "" {
		fmt.Fprintln(os.Stderr, "gnssdump: one of -input or -pcap is required")
		flag.Usage()
		os.Exit(1)
	}

	r, closeFn, err := openSource(*inputFile, *pcapFile, *udpPort)
	if err != nil {
		log.Fatalf("failed to open input: %v", err)
	}
	defer closeFn()

	reg := driver.NewRegistry()
	reg.Register(ubx.New())
	reg.Freeze()
	driverCtx := driver.NewContext(reg, true)
	driverCtx.ErrOutFn = func(text string) {
		fmt.Fprintf(os.Stderr, "device info: %s\n", text)
	}

	sess := newDumpSession(driverCtx)
	lex := lexer.New()
	enc := json.NewEncoder(os.Stdout)

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, frame := range lex.Feed(buf[:n]) {
				if frame.Type == lexer.Bad {
					continue
				}
				d := reg.Lookup(frame.Type)
				if d == nil {
					continue
				}
				mask := d.Parse(sess, frame.Bytes)
				if mask&driver.EndOfCycle == 0 {
					continue
				}
				if err := enc.Encode(toDumpFix(sess.fix)); err != nil {
					log.Fatalf("failed to encode fix: %v", err)
				}
				if *skyviewToo {
					if err := enc.Encode(toDumpSkyview(sess.sky)); err != nil {
						log.Fatalf("failed to encode skyview: %v", err)
					}
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return
			}
			log.Fatalf("read error: %v", err)
		}
	}
}

func openSource(inputFile, pcapFile string, udpPort int) (io.Reader, func() error, error) {
	if pcapFile != "" {
		factory := netcapture.PCAPFactory{}
		src := factory.NewSource()
		if err := src.Open(pcapFile); err != nil {
			return nil, nil, fmt.Errorf("open pcap %s: %w", pcapFile, err)
		}
		if udpPort != 0 {
			filter := fmt.Sprintf("udp port %d or tcp port %d", udpPort, udpPort)
			if err := src.SetFilter(filter); err != nil {
				src.Close()
				return nil, nil, fmt.Errorf("apply filter: %w", err)
			}
		}
		r := netcapture.NewPayloadReader(src)
		return r, r.Close, nil
	}

	f, err := os.Open(inputFile)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", inputFile, err)
	}
	return f, f.Close, nil
}

// dumpSession is the minimal driver.Session implementation a standalone
// replay needs: no hunt loop, no port, just the shared fix/skyview state
// the driver mutates.
type dumpSession struct {
	ctx  *driver.Context
	fix  fix.Fix
	sky  fix.Skyview
	leap int
}

func newDumpSession(ctx *driver.Context) *dumpSession {
	return &dumpSession{ctx: ctx, fix: fix.Zero()}
}

func (s *dumpSession) Fix() *fix.Fix             { return &s.fix }
func (s *dumpSession) Skyview() *fix.Skyview     { return &s.sky }
func (s *dumpSession) SetRaw(fix.RawMeasurement) {}
func (s *dumpSession) LeapSeconds() int          { return s.leap }
func (s *dumpSession) SetLeapSeconds(n int)      { s.leap = n; s.ctx.SetLeapSeconds(n) }
func (s *dumpSession) ErrOut(text string)        { s.ctx.ErrOut(text) }

// dumpFix is a JSON-safe view of fix.Fix; NaN sentinel fields become an
// omitted key rather than a rejected encoding.
type dumpFix struct {
	Time   string   `json:"time"`
	Mode   int      `json:"mode"`
	Status int      `json:"status"`
	Lat    *float64 `json:"lat,omitempty"`
	Lon    *float64 `json:"lon,omitempty"`
	AltHAE *float64 `json:"alt_hae,omitempty"`
	AltMSL *float64 `json:"alt_msl,omitempty"`
	Speed  *float64 `json:"speed,omitempty"`
	Track  *float64 `json:"track,omitempty"`
	Climb  *float64 `json:"climb,omitempty"`
}

func nanToPtr(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func toDumpFix(f fix.Fix) dumpFix {
	return dumpFix{
		Time:   f.Time.String(),
		Mode:   int(f.Mode),
		Status: int(f.Status),
		Lat:    nanToPtr(f.Lat),
		Lon:    nanToPtr(f.Lon),
		AltHAE: nanToPtr(f.AltHAE),
		AltMSL: nanToPtr(f.AltMSL),
		Speed:  nanToPtr(f.Speed),
		Track:  nanToPtr(f.Track),
		Climb:  nanToPtr(f.Climb),
	}
}

type dumpSkyview struct {
	Count int `json:"skyview_count"`
	Used  int `json:"skyview_used"`
}

func toDumpSkyview(sky fix.Skyview) dumpSkyview {
	return dumpSkyview{Count: sky.Count, Used: sky.Used()}
}
