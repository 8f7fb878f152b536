package soundcontrol

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/util"
)

const (
	crashlogFilename        = "soundcontrol-crash-%s.log"
	crashlogTimestampFormat = "2006.01.02-15.04.05"

	crashMessage = `-----------------------------------------------------------------
                     soundcontrol crashlog
-----------------------------------------------------------------
Unfortunately, soundcontrol has crashed.
A crashlog has been generated to help diagnose the issue.
-----------------------------------------------------------------
Time: %s
Panic occurred: %s
Stack trace:
%s
-----------------------------------------------------------------
`
)

func (sc *SoundControl) recoverFromPanic() {
	r := recover()

	if r == nil {
		return
	}

	now := time.Now()

	if err := util.EnsureDirExists(logDirectory); err != nil {
		panic(fmt.Errorf("ensure crashlog dir exists: %w", err))
	}

	crashlogBytes := bytes.NewBufferString(fmt.Sprintf(crashMessage, now.Format(crashlogTimestampFormat), r, debug.Stack()))
	crashlogPath := filepath.Join(logDirectory, fmt.Sprintf(crashlogFilename, now.Format(crashlogTimestampFormat)))

	if err := os.WriteFile(crashlogPath, crashlogBytes.Bytes(), 0o644); err != nil {
		panic(fmt.Errorf("can't even write the crashlog file contents: %w", err))
	}

	sc.logger.Errorw("Encountered and logged panic, crashing",
		"crashlogPath", crashlogPath,
		"error", r)

	sc.notifier.Notify("Unexpected crash occurred...",
		fmt.Sprintf("More details in %s", crashlogPath))

	sc.logger.Errorw("Quitting", "exitCode", 1)
	os.Exit(1)
}
