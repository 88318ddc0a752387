package cli

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/hellisbugfree/filing-cabinet/internal/config"
)

// sizeFlag is an optional byte count accepting "5MB", "100MiB" or plain
// numbers.
type sizeFlag struct {
	value int64
	set   bool
}

var _ pflag.Value = (*sizeFlag)(nil)

func (s *sizeFlag) String() string {
	if !s.set {
		return ""
	}
	return config.FormatSize(s.value)
}

func (s *sizeFlag) Set(raw string) error {
	n, err := config.ParseSize(raw)
	if err != nil {
		return err
	}
	s.value, s.set = n, true
	return nil
}

func (s *sizeFlag) Type() string {
	return "size"
}

// dateLayout is the accepted --since/--until format.
const dateLayout = "2006-01-02"

// dateFlag is an optional calendar date in local time.
type dateFlag struct {
	value time.Time
	set   bool
}

var _ pflag.Value = (*dateFlag)(nil)

func (d *dateFlag) String() string {
	if !d.set {
		return ""
	}
	return d.value.Format(dateLayout)
}

func (d *dateFlag) Set(raw string) error {
	t, err := time.ParseInLocation(dateLayout, raw, time.Local)
	if err != nil {
		return fmt.Errorf("want a date like %s", dateLayout)
	}
	d.value, d.set = t, true
	return nil
}

func (d *dateFlag) Type() string {
	return "date"
}
