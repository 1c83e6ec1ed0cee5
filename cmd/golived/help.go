package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

// Populated via -ldflags="-X ...".
var GitRevisionId string
var GitTag string

var (
	flagConfig        string
	flagSource        string
	flagURL           string
	flagKey           string
	flagToken         string
	flagFPS           int
	flagNoAudio       bool
	flagNoVideo       bool
	flagChunkInterval string
	flagMaxAttempts   int
	flagStatsInterval string
	flagLogLevel      string
	flagHelp          bool
	flagVersion       bool
)

func init() {
	flag.StringVarP(&flagConfig, "config", "c", "", "YAML configuration file")
	flag.StringVarP(&flagSource, "source", "i", "testsrc:30", "Capture device")
	flag.StringVarP(&flagURL, "url", "u", "", "Ingest server URL")
	flag.StringVarP(&flagKey, "key", "k", "", "Stream key")
	flag.StringVarP(&flagToken, "token", "t", "", "Bearer token")
	flag.IntVarP(&flagFPS, "fps", "f", 0, "Frame rate announced to the server")
	flag.BoolVarP(&flagNoAudio, "no-audio", "", false, "Do not capture audio")
	flag.BoolVarP(&flagNoVideo, "no-video", "", false, "Do not capture video")
	flag.StringVarP(&flagChunkInterval, "chunk-interval", "", "", "Chunk duration")
	flag.IntVarP(&flagMaxAttempts, "max-attempts", "", -1, "Reconnect attempts before giving up")
	flag.StringVarP(&flagStatsInterval, "stats-interval", "s", "0", "Log statistics at this interval")
	flag.StringVarP(&flagLogLevel, "log-level", "l", "", "Logging directives, as in LOGLEVEL")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `Live broadcast client for connected devices

Usage: golived [OPTION]...

Source:
  -i, --source=DEVICE      Capture device (default: testsrc:30). One of
                             testsrc:<fps>, h264:<file>@<fps>, mp4:<file>
      --no-audio           Do not capture audio
      --no-video           Do not capture video
  -f, --fps=NUM            Frame rate announced to the server (default: 30)
      --chunk-interval=DUR Chunk duration (default: 250ms)

Ingest:
  -c, --config=FILE        YAML configuration file. Flags override it.
  -u, --url=URL            Ingest server, e.g. https://ingest.example.com
  -k, --key=KEY            Stream key
  -t, --token=TOKEN        Bearer token for the ingest server
      --max-attempts=NUM   Reconnect attempts before giving up (default: 3)

Signals:
  SIGINT, SIGTERM          End the broadcast
  SIGUSR1                  Toggle audio
  SIGUSR2                  Toggle video

Miscellaneous:
  -l, --log-level=SPEC     Logging directives, e.g. "info,transport=debug"
  -s, --stats-interval=DUR Log statistics periodically (default: off)
  -h, --help               Prints this help message and exits
  -v, --version            Prints version information and exits

Please report bugs to: aloha@lanikailabs.com`

// Help information is printed and program exits
func help() {
	r := color.New(color.FgRed)
	y := color.New(color.FgYellow)
	b := color.New(color.FgCyan)

	r.Printf("  __ _  ___  ")
	y.Printf("| |(_)")
	b.Println("__   __ ___ ")

	r.Printf(" / _` |/ _ \\ ")
	y.Printf("| || |")
	b.Println("\\ \\ / // _ \\")

	r.Printf("| (_| | (_) |")
	y.Printf("| || |")
	b.Println(" \\ V /|  __/")

	r.Printf(" \\__, |\\___/ ")
	y.Printf("|_||_|")
	b.Println("  \\_/  \\___|")

	r.Println(" |___/")

	fmt.Println(helpString)
}

// version displays information and exits successfully (GNU convention)
func version() {
	fmt.Println("golived", GitTag, GitRevisionId)
	fmt.Println("Copyright 2019 Lanikai Labs LLC. All rights reserved.")
}
