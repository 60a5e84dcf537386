// =============================================================================
// 文件: cmd/stcp-peer/main.go
// 描述: 主程序入口 - 单连接 STCP 对端, stdin/stdout 作为数据流
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/mrcgq/stcp/internal/config"
	"github.com/mrcgq/stcp/internal/logger"
	"go.uber.org/zap"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("c", "", "配置文件路径 (为空时使用默认配置)")
	showVersion := flag.Bool("v", false, "显示版本")
	genConfig := flag.Bool("gen-config", false, "生成示例配置文件")
	mode := flag.String("mode", "", "打开方式: active/passive")
	listen := flag.String("listen", "", "被动方监听地址")
	remote := flag.String("remote", "", "主动方连接地址")
	transportName := flag.String("transport", "", "数据报链路: udp/websocket")
	logLevel := flag.String("log", "", "日志级别: debug/info/warn/error")
	fixedISN := flag.Bool("fixed-isn", false, "使用固定初始序列号")

	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "已生成示例配置文件: config.example.yaml")
		return
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// 命令行覆盖
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *remote != "" {
		cfg.Remote = *remote
	}
	if *transportName != "" {
		cfg.Transport = *transportName
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *fixedISN {
		cfg.STCP.FixedISN = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "日志初始化失败: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 等待信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("收到信号, 正在关闭", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info("STCP 对端启动",
		zap.String("version", Version),
		zap.String("mode", cfg.Mode),
		zap.String("transport", cfg.Transport),
		zap.String("listen", cfg.Listen),
		zap.String("remote", cfg.Remote))

	if err := runPeer(ctx, cfg, log, os.Stdin, os.Stdout); err != nil {
		log.Error("会话异常结束", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("STCP Peer v%s\n", Version)
	fmt.Printf("  Build: %s\n", BuildTime)
	fmt.Printf("  Commit: %s\n", GitCommit)
	fmt.Printf("  Go: %s\n", runtime.Version())
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Println()
	fmt.Println("打开方式:")
	fmt.Println("  - passive   : 监听并等待对端 SYN")
	fmt.Println("  - active    : 向对端发起握手")
	fmt.Println()
	fmt.Println("数据报链路:")
	fmt.Println("  - udp       : 原生 UDP")
	fmt.Println("  - websocket : 每个二进制消息承载一个报文")
	fmt.Println()
	fmt.Println("使用示例:")
	fmt.Println("  stcp-peer -mode passive -listen :54321 > received.bin")
	fmt.Println("  stcp-peer -mode active -remote 127.0.0.1:54321 < file.bin")
	fmt.Println()
	fmt.Println("监控:")
	fmt.Println("  - /metrics  : Prometheus 格式指标")
	fmt.Println("  - /health   : JSON 健康状态")
}
