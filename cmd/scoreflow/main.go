// =============================================================================
// ScoreFlow 主入口
// =============================================================================
// 模型评分服务入口，包含 HTTP 服务与模型管理 CLI
//
// 使用方法:
//
//	scoreflow serve                                  # 启动服务
//	scoreflow serve --config config.yaml             # 指定配置文件
//	scoreflow deploy --id fraud fraud.yaml           # 部署模型
//	scoreflow undeploy fraud                         # 下线模型
//	scoreflow list                                   # 列出已部署模型
//	scoreflow csv --model fraud --in in.csv --out out.csv
//	scoreflow health                                 # 就绪检查
//	scoreflow version                                # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/scoreflow/client"
	"github.com/BaSui01/scoreflow/config"
	"github.com/BaSui01/scoreflow/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const defaultAddr = "http://localhost:8080"

// errUsage 参数错误，已向 stderr 打印用法
var errUsage = errors.New("invalid usage")

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run 执行子命令并返回退出码
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	var err error
	switch args[0] {
	case "serve":
		err = runServe(args[1:], stderr)
	case "deploy":
		err = runDeploy(args[1:], stdout, stderr)
	case "undeploy":
		err = runUndeploy(args[1:], stdout, stderr)
	case "list":
		err = runList(args[1:], stdout, stderr)
	case "csv":
		err = runCSV(args[1:], stdin, stdout, stderr)
	case "health":
		err = runHealthCheck(args[1:], stdout, stderr)
	case "version":
		printVersion(stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}

	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	// 加载配置：默认值 → YAML 文件 → SCOREFLOW_ 环境变量 → 校验
	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ScoreFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelProviders, err := telemetry.Init(ctx, cfg.Telemetry, Version, logger,
		telemetry.WithAttributes(
			attribute.String("scoreflow.archive.driver", cfg.Archive.Driver),
			attribute.Int("scoreflow.models.parallelism", cfg.Models.Parallelism),
		),
	)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	srv := NewServer(cfg, logger, otelProviders)
	if err := srv.Start(ctx); err != nil {
		logger.Error("Failed to start server", zap.Error(err))
		return err
	}

	waitErr := srv.Wait(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)

	logger.Info("ScoreFlow stopped")
	return errors.Join(waitErr, shutdownErr)
}

// =============================================================================
// 🧮 模型管理命令
// =============================================================================

// clientFlags 客户端子命令共用的参数
type clientFlags struct {
	addr    *string
	timeout *time.Duration
	caFile  *string
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	addr := os.Getenv("SCOREFLOW_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	return clientFlags{
		addr:    fs.String("addr", addr, "Server address (env SCOREFLOW_ADDR)"),
		timeout: fs.Duration("timeout", 60*time.Second, "Request timeout, 0 for none"),
		caFile:  fs.String("ca-file", "", "CA certificate for https addresses"),
	}
}

func (f clientFlags) client() (*client.Client, error) {
	return client.New(*f.addr, client.WithTimeout(*f.timeout), client.WithCAFile(*f.caFile))
}

func runDeploy(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("deploy", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addClientFlags(fs)
	id := fs.String("id", "", "Model id (default: file name without extension)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: scoreflow deploy [--id <id>] <model.yaml>")
		return errUsage
	}

	path := fs.Arg(0)
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if *id == "" {
		base := filepath.Base(path)
		*id = strings.TrimSuffix(base, filepath.Ext(base))
	}

	c, err := cf.client()
	if err != nil {
		return err
	}
	info, err := c.Deploy(context.Background(), *id, source)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Deployed %s (%s, %d bytes, sha256 %s)\n", info.ID, info.Kind, info.Size, shortDigest(info.Digest))
	return nil
}

func runUndeploy(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("undeploy", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: scoreflow undeploy <id>")
		return errUsage
	}

	c, err := cf.client()
	if err != nil {
		return err
	}
	if err := c.Undeploy(context.Background(), fs.Arg(0)); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Undeployed %s\n", fs.Arg(0))
	return nil
}

func runList(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	c, err := cf.client()
	if err != nil {
		return err
	}
	infos, err := c.List(context.Background())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tDEPLOYED\tSIZE\tDIGEST")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			info.ID, info.Kind, info.DeployedAt.Format(time.RFC3339), info.Size, shortDigest(info.Digest))
	}
	return tw.Flush()
}

// runCSV 把 CSV 文件流式发送给模型并把结果写到文件或标准输出
func runCSV(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("csv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addClientFlags(fs)
	model := fs.String("model", "", "Model id")
	inPath := fs.String("in", "-", "Input CSV file, - for stdin")
	outPath := fs.String("out", "-", "Output CSV file, - for stdout")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *model == "" {
		fmt.Fprintln(stderr, "Usage: scoreflow csv --model <id> [--in <file>] [--out <file>]")
		return errUsage
	}

	c, err := cf.client()
	if err != nil {
		return err
	}

	in := stdin
	if *inPath != "-" {
		f, err := os.Open(*inPath)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	if *outPath == "-" {
		return c.EvaluateCSV(context.Background(), *model, in, stdout)
	}

	// 先写临时文件，成功后再改名，失败时不留下半截输出
	tmp, err := os.CreateTemp(filepath.Dir(*outPath), ".scoreflow-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := c.EvaluateCSV(context.Background(), *model, in, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), *outPath)
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	c, err := cf.client()
	if err != nil {
		return err
	}
	report, err := c.Ready(context.Background())
	if report != nil {
		for name, check := range report.Checks {
			if check.Status != "pass" {
				fmt.Fprintf(stderr, "  %s: %s %s\n", name, check.Status, check.Message)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if report.Status == "degraded" {
		fmt.Fprintln(stdout, "OK (degraded)")
		return nil
	}
	fmt.Fprintln(stdout, "OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "ScoreFlow %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `ScoreFlow - predictive model scoring service

Usage:
  scoreflow <command> [options]

Commands:
  serve      Start the ScoreFlow server
  deploy     Deploy a model document
  undeploy   Undeploy a model
  list       List deployed models
  csv        Evaluate a CSV file against a model
  health     Check server readiness
  version    Show version information
  help       Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for client commands:
  --addr <url>      Server address (default http://localhost:8080, env SCOREFLOW_ADDR)
  --timeout <d>     Request timeout (default 60s)
  --ca-file <path>  CA certificate for https addresses

Examples:
  scoreflow serve --config /etc/scoreflow/config.yaml
  scoreflow deploy models/fraud.yaml
  scoreflow csv --model fraud --in transactions.csv --out scores.csv
  scoreflow list --addr https://scoring.internal:8443 --ca-file ca.pem
  scoreflow health`)
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          "json",
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
