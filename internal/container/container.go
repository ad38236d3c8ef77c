package container

import (
	"context"
	"fmt"
	"time"

	"greenfloor/config"
	"greenfloor/gateway"
	"greenfloor/infrastructure/alert"
	"greenfloor/infrastructure/logger"
	"greenfloor/internal/engine"
	"greenfloor/order"
)

// Options 命令行传入的路径与开关。
type Options struct {
	ProgramPath string
	MarketsPath string
	OverlayPath string
	// DryRun 与配置文件中的 dry_run 取或
	DryRun bool
	// AlertThrottle 相同告警的最小间隔
	AlertThrottle time.Duration
}

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	opts Options
	cfg  config.ProgramConfig

	logger *logger.Logger
	alerts *alert.Manager

	markets   *MarketStore
	priceFeed *gateway.PriceFeed
	sage      *gateway.SageClient
	book      *order.Book
	executor  *engine.Executor
	loop      *engine.MarketLoop

	lifecycle *LifecycleManager
}

// New 加载程序与市场配置。
func New(opts Options) (*Container, error) {
	cfg, err := config.LoadProgramWithEnvOverrides(opts.ProgramPath)
	if err != nil {
		return nil, fmt.Errorf("load program config failed: %w", err)
	}
	if opts.DryRun {
		cfg.DryRun = true
	}
	if opts.AlertThrottle <= 0 {
		opts.AlertThrottle = 10 * time.Minute
	}
	markets, err := NewMarketStore(opts.MarketsPath, opts.OverlayPath)
	if err != nil {
		return nil, fmt.Errorf("load markets config failed: %w", err)
	}
	return &Container{
		opts:      opts,
		cfg:       cfg,
		markets:   markets,
		lifecycle: NewLifecycleManager(),
	}, nil
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}
	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}
	if err := c.registerLifecycleComponents(); err != nil {
		return err
	}
	c.logger.Info("container built successfully")
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}
	c.alerts = alert.NewManager([]alert.Channel{alert.NewLoggerChannel(c.logger)}, c.opts.AlertThrottle)
	return nil
}

func (c *Container) buildGateway() error {
	pf := c.cfg.PriceFeed
	c.priceFeed = &gateway.PriceFeed{
		XCHPriceURL: pf.XCHPriceURL,
		TickersURL:  pf.TickersURL,
		HTTPClient:  gateway.NewDefaultHTTPClient(time.Duration(pf.TimeoutSeconds) * time.Second),
		Limiter:     gateway.NewTokenBucketLimiter(pf.RatePerSec, pf.Burst),
	}
	if c.cfg.DryRun {
		c.logger.Info("dry run: sage wallet client not created")
		return nil
	}

	s := c.cfg.Sage
	if !gateway.CertsPresent(s.CertPath, s.KeyPath) {
		return fmt.Errorf("sage wallet cert/key not found (data dir %s); use -dryRun or set sage.cert_path", gateway.SageDataDir())
	}
	sage, err := gateway.NewSageClient(gateway.SageOptions{
		Host:        s.Host,
		Port:        s.Port,
		CertPath:    s.CertPath,
		KeyPath:     s.KeyPath,
		Fingerprint: s.Fingerprint,
		Limiter:     gateway.NewTokenBucketLimiter(s.RatePerSec, s.Burst),
	})
	if err != nil {
		return err
	}
	c.sage = sage
	return nil
}

func (c *Container) buildCoreServices() error {
	c.book = order.NewBook()

	var wallet engine.Wallet
	var guard engine.WalletGuard
	var offers engine.OfferLister
	if c.sage != nil {
		wallet, guard, offers = c.sage, c.sage, c.sage
	}
	var err error
	c.executor, err = engine.NewExecutor(wallet, c.book, c.logger, engine.ExecutorConfig{
		FeeMojos: c.cfg.Sage.FeeMojos,
		DryRun:   c.cfg.DryRun,
	})
	if err != nil {
		return err
	}

	rt := c.cfg.Runtime
	c.loop, err = engine.New(engine.Config{
		Interval:      time.Duration(rt.LoopIntervalSeconds) * time.Second,
		MaxConcurrent: rt.MaxConcurrentMarkets,
		OfferMaxAge:   time.Duration(rt.OfferMaxAgeSeconds) * time.Second,
	}, engine.Components{
		Markets:  c.markets.Get,
		Prices:   c.priceFeed,
		Tickers:  c.priceFeed,
		Guard:    guard,
		Offers:   offers,
		Executor: c.executor,
		Book:     c.book,
		Alerts:   c.alerts,
		Logger:   c.logger,
	})
	return err
}

func (c *Container) registerLifecycleComponents() error {
	if c.cfg.Metrics.Addr != "" {
		c.lifecycle.Register(&httpServerComponent{
			addr:   c.cfg.Metrics.Addr,
			routes: engine.Routes(c.loop),
			logger: c.logger,
		})
	}
	w, err := config.NewWatcher(2*time.Second, c.markets.Paths()...)
	if err != nil {
		return fmt.Errorf("create markets watcher failed: %w", err)
	}
	c.lifecycle.Register(&watcherComponent{watcher: w, store: c.markets, logger: c.logger})
	c.lifecycle.Register(&loopComponent{loop: c.loop})
	return nil
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")
	if c.sage != nil {
		// 启动前确认钱包身份，错误的钱包不允许挂单
		if err := c.sage.CheckFingerprint(ctx); err != nil {
			return fmt.Errorf("sage wallet check failed: %w", err)
		}
		// 重启后接管钱包里仍然有效的报价，避免重复挂满梯度
		res, err := c.loop.Reconcile(ctx)
		if err != nil {
			return fmt.Errorf("initial offer reconcile failed: %w", err)
		}
		c.logger.Info(fmt.Sprintf("initial reconcile: adopted %d, taken %d, cancelled %d, expired %d",
			res.Adopted, res.Taken, res.Cancelled, res.Expired))
	}
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Info("container started")
	return nil
}

// Stop 停止所有组件；已发布的报价保留在链上，按各自过期时间失效。
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")
	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	_ = c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) Loop() *engine.MarketLoop { return c.loop }

func (c *Container) Logger() *logger.Logger { return c.logger }

func (c *Container) Config() config.ProgramConfig { return c.cfg }
