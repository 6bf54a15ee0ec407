// Package config holds the plain configuration record threaded through
// a conversion: no ambient singleton, passed by value into every
// subsystem that needs it.
package config

import "github.com/vsftool/vsf2prg/pkg/convert"

// Config is the process-wide configuration for one conversion run.
type Config struct {
	WorkDir    string
	CRTOptions *convert.CartOptions // nil for a self-extracting PRG conversion
}
