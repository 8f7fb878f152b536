package main

import (
	"flag"
	"fmt"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol"
)

var (
	gitCommit  string
	versionTag string
	buildType  string

	verbose bool
)

func init() {
	flag.BoolVar(&verbose, "verbose", false, "show verbose logs (useful for debugging clients)")
	flag.BoolVar(&verbose, "v", false, "shorthand for --verbose")
	flag.Parse()
}

func main() {
	logger, err := soundcontrol.NewLogger(buildType, verbose)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}

	named := logger.Named("main")
	named.Debug("Created logger")

	named.Infow("Version info",
		"gitCommit", gitCommit,
		"versionTag", versionTag,
		"buildType", buildType)

	if verbose {
		named.Debug("Verbose flag provided, all log messages will be shown")
	}

	sc, err := soundcontrol.NewSoundControl(logger, verbose)
	if err != nil {
		named.Fatalw("Failed to create soundcontrol object", "error", err)
	}

	if buildType != "" && (versionTag != "" || gitCommit != "") {
		identifier := gitCommit
		if versionTag != "" {
			identifier = versionTag
		}

		versionString := fmt.Sprintf("Version %s-%s", buildType, identifier)
		sc.SetVersion(versionString)
	}

	if err = sc.Initialize(); err != nil {
		named.Fatalw("Failed to initialize soundcontrol", "error", err)
	}
}
