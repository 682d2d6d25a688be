package cmd

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/taar/callqa-pipeline/config"
	"github.com/taar/callqa-pipeline/metrics"
	"github.com/taar/callqa-pipeline/orchestrator"
	"github.com/taar/callqa-pipeline/store"
)

type fileAnalyzer interface {
	AnalyzeFile(ctx context.Context, path, agent string) (*orchestrator.CallAnalysis, error)
}

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Root
	configErr  error

	logOnce sync.Once
	logger  *logrus.Logger

	// swapped out in tests
	openStore   func(ctx context.Context, driver, dsn string) (store.Store, error)
	newPipeline func(c *config.Root, log *logrus.Logger, st store.Store) (*orchestrator.Pipeline, error)
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
		openStore:    store.Open,
		newPipeline: func(c *config.Root, log *logrus.Logger, st store.Store) (*orchestrator.Pipeline, error) {
			return orchestrator.New(c, log, orchestrator.WithSaver(st))
		},
	}
}

func (c *commandContext) ensureConfig() (*config.Root, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

// log returns the process logger, writing to stderr so command output on
// stdout stays clean. The --log-level flag wins over pipeline.log_level.
func (c *commandContext) log() *logrus.Logger {
	c.logOnce.Do(func() {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

		levelStr := "info"
		if cfg, err := c.ensureConfig(); err == nil && cfg.Pipeline.LogLvl != "" {
			levelStr = cfg.Pipeline.LogLvl
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			levelStr = strings.TrimSpace(*c.logLevelFlag)
		}
		level, err := logrus.ParseLevel(levelStr)
		if err != nil {
			l.Warnf("Invalid log level '%s', defaulting to 'info'", levelStr)
			level = logrus.InfoLevel
		}
		l.SetLevel(level)
		metrics.Init(l)
		c.logger = l
	})
	return c.logger
}

func (c *commandContext) withStore(ctx context.Context, fn func(store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := c.openStore(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			c.log().WithError(err).Warn("close store")
		}
	}()
	return fn(st)
}

func (c *commandContext) pipeline(st store.Store) (*orchestrator.Pipeline, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return c.newPipeline(cfg, c.log(), st)
}
