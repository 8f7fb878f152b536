package soundcontrol

import (
	"go.uber.org/zap"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer"
)

// no icon extraction outside Windows; sessions are still listed, with a null icon
type noIconLoader struct{}

func newIconLoader(logger *zap.SugaredLogger) mixer.IconLoader {
	logger.Named("icon_loader").Debug("Icon extraction is not supported on this platform")
	return noIconLoader{}
}

func (noIconLoader) LoadIcon(path string) (mixer.Icon, error) {
	return nil, nil
}
