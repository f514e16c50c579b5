package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagURL         string
	flagOutput      string
	flagMonitor     string
	flagStreams     []string
	flagQueueLength int
	flagFrameRate   string
	flagDuration    time.Duration
	flagLogLevel    string
	flagHelp        bool
	flagVersion     bool
)

// Flag defaults come from the environment, so this runs after .env is loaded.
func defineFlags() {
	flag.StringVarP(&flagURL, "url", "u", os.Getenv("RTSPSOURCE_URL"), "RTSP presentation URL")
	flag.StringVarP(&flagOutput, "output", "o", os.Getenv("RTSPSOURCE_OUTPUT"), "Record to file (.ts, .mp4 or .aac)")
	flag.StringVarP(&flagMonitor, "monitor", "m", os.Getenv("RTSPSOURCE_MONITOR"), "Serve the event feed on this address")
	flag.StringSliceVarP(&flagStreams, "streams", "s", nil, "Streams to play (video, audio)")
	flag.IntVarP(&flagQueueLength, "queue-length", "q", 0, "Maximum queued samples per stream")
	flag.StringVarP(&flagFrameRate, "frame-rate", "r", "", "Override the signalled frame rate, e.g. 30000/1001")
	flag.DurationVarP(&flagDuration, "duration", "d", 0, "Stop after this long")
	flag.StringVarP(&flagLogLevel, "log-level", "l", os.Getenv("LOGLEVEL"), "Logging directives, e.g. info,rtp=debug")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `Receive a live RTSP camera stream and reassemble its samples

Usage: rtspsource [OPTION]... [URL]

Source:
  -u, --url=URL          RTSP presentation URL ($RTSPSOURCE_URL)
  -s, --streams=LIST     Streams to play: video, audio (default: all)
  -r, --frame-rate=N/D   Override the frame rate signalled by the camera
  -q, --queue-length=NUM Maximum queued samples per stream (default: 200)

Output:
  -o, --output=FILE      Record to FILE; .ts, .mp4 or .aac ($RTSPSOURCE_OUTPUT)
  -m, --monitor=ADDR     Serve events at ws://ADDR/events ($RTSPSOURCE_MONITOR)
  -d, --duration=TIME    Stop after TIME, e.g. 30s (default: run until interrupted)

Miscellaneous:
  -l, --log-level=LIST   Logging directives, e.g. info,rtp=debug ($LOGLEVEL)
  -h, --help             Prints this help message and exits
  -v, --version          Prints version information and exits

Settings are also read from a .env file in the working directory.`

// Help information is printed and program exits
func help() {
	r := color.New(color.FgRed)
	y := color.New(color.FgYellow)
	b := color.New(color.FgCyan)

	//       _
	//  _ __| |_ ____ __
	// | '_||  _(_-< '_ \
	// |_|   \__/__/ .__/
	//             |_|

	// Line 1
	r.Printf("     ")
	y.Printf(" _   ")
	b.Printf("   ")
	y.Println("     ")

	// Line 2
	r.Printf("  _ _")
	y.Printf("| |_ ")
	b.Printf("___")
	y.Println(" _ __ ")

	// Line 3
	r.Printf(" | '_")
	y.Printf("|  _|")
	b.Printf("(_-<")
	y.Println("| '_ \\")

	// Line 4
	r.Printf(" |_| ")
	y.Printf(" \\__|")
	b.Printf("/__/")
	y.Println("| .__/")

	// Line 5
	r.Printf("     ")
	y.Printf("     ")
	b.Printf("    ")
	y.Println("|_|   ")

	fmt.Println(helpString)
}

// Populated via -ldflags="-X main.version=...".
var buildVersion = "devel"

func version() {
	fmt.Println("rtspsource", buildVersion)
}
