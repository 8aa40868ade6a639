package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"probe-meter/meter/config"
	"probe-meter/meter/demux"
	merrors "probe-meter/meter/errors"
	"probe-meter/meter/httpapi"
	mlog "probe-meter/meter/log"
	"probe-meter/meter/ports"
	"probe-meter/meter/probe"
	"probe-meter/meter/reporter"
	"probe-meter/meter/sink"
	"probe-meter/meter/status"
	"probe-meter/meter/wire"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

const Version = "1.0"

func main() {
	flag.CommandLine.SetOutput(os.Stdout)
	configPathFlag := flag.String("config_path", "configs/config.yaml", "配置文件路径（YAML）。如果是目录，则默认读取该目录下的 config.yaml")
	versionFlag := flag.Bool("version", false, "输出版本并退出")
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stdout, "probe-meter %s\n\n", Version)
		_, _ = fmt.Fprintln(os.Stdout, "用法：")
		_, _ = fmt.Fprintln(os.Stdout, "  probe-meter [--config_path <path>] [--version] [--help]")
		_, _ = fmt.Fprintln(os.Stdout, "\n参数：")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *versionFlag {
		_, _ = fmt.Fprintln(os.Stdout, Version)
		return
	}

	cfg, err := config.Load(resolveConfigPath(*configPathFlag))
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := mlog.Init(cfg.Logging); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := signalContext()
	defer cancel()
	if err := run(ctx, cfg); err != nil {
		mlog.L().WithField("status", "exit_error").WithError(err).Error("测量异常退出")
		os.Exit(1)
	}
	mlog.L().WithField("status", "exit_ok").Info("测量正常退出")
}

// run 启动端点、上报与 HTTP 服务，直到 ctx 取消、全部端点关闭或发生致命传输错误。
// 退出前总会对当前窗口做一次最终上报。
func run(ctx context.Context, cfg config.Config) error {
	runID := uuid.NewString()
	log := mlog.With(logrus.Fields{"run_id": runID})

	layout, err := wire.FromConfig(cfg.Wire)
	if err != nil {
		return err
	}
	unit, err := reporter.ParseBandwidthUnit(cfg.Report.BandwidthUnit)
	if err != nil {
		return err
	}

	for _, ep := range cfg.Endpoints {
		tr, _ := status.ParseTransport(ep.Transport)
		if err := ports.CheckAvailable(tr, ep.Listen); err != nil {
			log.WithFields(logrus.Fields{"endpoint": ep.Name, "addr": ep.Listen, "status": "port_conflict"}).WithError(err).Error("端口占用检测失败")
			return err
		}
		log.WithFields(logrus.Fields{"endpoint": ep.Name, "addr": ep.Listen, "status": "port_available"}).Info("端口占用检测通过")
	}

	dm, err := demux.New(cfg.Endpoints, layout, demux.Options{
		PayloadSize: cfg.Wire.PayloadSize,
		MaxPayload:  int(cfg.Wire.MaxPayload),
		PerStream:   cfg.Report.PerStream,
		SRT:         cfg.SRT,
		Receiver:    probe.Options{PollInterval: probe.DefaultPollInterval},
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	latest := sink.NewLatest()
	sinks := sink.Multi{sink.NewLog(), latest, sink.NewPrometheus(reg)}
	if cfg.NATS.URL != "" {
		ns, err := sink.NewNATS(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return err
		}
		defer func() { _ = ns.Close() }()
		sinks = append(sinks, ns)
	}

	// HTTP 地址在端点绑定前占用，绑定失败属于启动错误。
	var httpLn net.Listener
	if cfg.HTTP.Listen != "" {
		httpLn, err = net.Listen("tcp", cfg.HTTP.Listen)
		if err != nil {
			log.WithFields(logrus.Fields{"addr": cfg.HTTP.Listen, "status": "http_listen_error"}).WithError(err).Error("HTTP 监听失败")
			return merrors.Transport(fmt.Sprintf("http listen failed: %s", cfg.HTTP.Listen), err)
		}
	}
	if err := dm.Bind(); err != nil {
		if httpLn != nil {
			_ = httpLn.Close()
		}
		return err
	}

	var srv *http.Server
	if httpLn != nil {
		srv = &http.Server{
			Addr:              httpLn.Addr().String(),
			Handler:           httpapi.NewRouter(runID, latest, dm, reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.WithFields(logrus.Fields{"addr": srv.Addr, "status": "http_listen"}).Info("HTTP 服务启动")
			if err := srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithField("status", "http_error").WithError(err).Error("HTTP 服务异常")
			}
		}()
	}

	rep := reporter.New(reporter.Options{Period: cfg.Report.Period, Unit: unit, RunID: runID, Sink: sinks}, dm.Sources()...)
	repCtx, repCancel := context.WithCancel(context.Background())
	repDone := make(chan struct{})
	go func() {
		defer close(repDone)
		_ = rep.Run(repCtx)
	}()

	log.WithFields(logrus.Fields{"endpoints": len(cfg.Endpoints), "period": rep.Period().String(), "status": "started"}).Info("测量开始")
	runErr := dm.Run(ctx)
	if runErr == nil && ctx.Err() == nil {
		log.WithField("status", "all_closed").Info("全部端点已关闭")
	}

	// 端点全部退出后再停止上报，使 Flush 覆盖最后到达的样本。
	repCancel()
	<-repDone

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	return runErr
}

func resolveConfigPath(p string) string {
	if p == "" {
		return "configs/config.yaml"
	}
	st, err := os.Stat(p)
	if err != nil {
		return p
	}
	if st.IsDir() {
		return filepath.Join(p, "config.yaml")
	}
	return p
}

// signalContext 创建一个可被 SIGINT/SIGTERM 取消的 Context。
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
