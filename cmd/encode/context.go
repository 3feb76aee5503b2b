package main

import (
	"strings"
	"sync"

	"github.com/thesyncim/encoder"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     encoder.FileConfig
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensureConfig loads the --config file once, falling back to defaults when
// no file is given.
func (c *commandContext) ensureConfig() (encoder.FileConfig, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		if path == "" {
			c.config = encoder.DefaultFileConfig()
			return
		}
		c.config, c.configErr = encoder.LoadConfig(path)
	})
	return c.config, c.configErr
}
