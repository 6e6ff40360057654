// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Loggers per subsystem. A single backend entry (a *logrus.Logger) is
// created per subsystem tag; all subsystem loggers share the same output
// writer but carry an independent level so `ParseAndSetDebugLevels` can
// turn up a single noisy subsystem without touching the rest.
var subsystemLoggers = map[string]*logrus.Logger{}

// SubsystemTags is an enum of all sub system tags.
var SubsystemTags = struct {
	REAC, // reachability index & reindex
	STOR, // versioned storage
	CNSS, // DAG consensus / GHOSTDAG
	CHST, // chain-state transaction apply
	ESCW, // escrow / arbitration
	SCHD, // scheduled-execution scheduler
	CTRT, // contract-execution harness
	SYNC, // chain-sync protocol
	DISC, // discovery overlay
	A2AB, // A2A bridge
	TOSD, // top-level daemon
	UTIL string // shared utilities
}{
	REAC: "REAC",
	STOR: "STOR",
	CNSS: "CNSS",
	CHST: "CHST",
	ESCW: "ESCW",
	SCHD: "SCHD",
	CTRT: "CTRT",
	SYNC: "SYNC",
	DISC: "DISC",
	A2AB: "A2AB",
	TOSD: "TOSD",
	UTIL: "UTIL",
}

var output io.Writer = os.Stdout

func init() {
	for _, tag := range []string{
		SubsystemTags.REAC, SubsystemTags.STOR, SubsystemTags.CNSS,
		SubsystemTags.CHST, SubsystemTags.ESCW, SubsystemTags.SCHD,
		SubsystemTags.CTRT, SubsystemTags.SYNC, SubsystemTags.DISC,
		SubsystemTags.A2AB, SubsystemTags.TOSD, SubsystemTags.UTIL,
	} {
		l := logrus.New()
		l.SetOutput(output)
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		l.SetLevel(logrus.InfoLevel)
		subsystemLoggers[tag] = l
	}
}

// SetOutput redirects every subsystem logger to w. Intended for daemon
// startup, once the log file has been opened.
func SetOutput(w io.Writer) {
	output = w
	for _, l := range subsystemLoggers {
		l.SetOutput(w)
	}
}

// Get returns the logger of a specific subsystem.
func Get(tag string) (*logrus.Logger, bool) {
	l, ok := subsystemLoggers[tag]
	return l, ok
}

// SetLogLevel sets the logging level for the provided subsystem. Invalid
// subsystems are ignored.
func SetLogLevel(subsystemID string, logLevel string) {
	l, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level.
func SetLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		SetLogLevel(subsystemID, logLevel)
	}
}

// SupportedSubsystems returns a sorted slice of the supported subsystems.
func SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// ParseAndSetDebugLevels attempts to parse the specified debug level
// string and set the levels accordingly. An appropriate error is
// returned if anything is invalid. The string is either a single level
// applied to every subsystem ("debug") or a comma-separated list of
// subsystem=level pairs ("SYNC=debug,DISC=trace").
func ParseAndSetDebugLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid", debugLevel)
		}
		SetLogLevels(debugLevel)
		return nil
	}

	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			return fmt.Errorf("the specified debug level contains an invalid subsystem/level pair [%s]", logLevelPair)
		}

		fields := strings.SplitN(logLevelPair, "=", 2)
		subsysID, logLevel := fields[0], fields[1]

		if _, exists := Get(subsysID); !exists {
			return fmt.Errorf("the specified subsystem [%s] is invalid -- supported subsystems %s",
				subsysID, strings.Join(SupportedSubsystems(), ", "))
		}
		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid", logLevel)
		}
		SetLogLevel(subsysID, logLevel)
	}
	return nil
}

func validLogLevel(logLevel string) bool {
	_, err := logrus.ParseLevel(logLevel)
	return err == nil
}

// DirectionString returns a string representing the direction of a
// connection (inbound or outbound).
func DirectionString(inbound bool) string {
	if inbound {
		return "inbound"
	}
	return "outbound"
}

// PickNoun returns the singular or plural form of a noun depending on n.
func PickNoun(n uint64, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
