// =============================================================================
// 文件: internal/metrics/server.go
// 描述: 指标与健康检查 HTTP 服务 - /metrics, /health, /health/conn
// =============================================================================
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthStatus 健康状态
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// ComponentHealth 组件健康状态
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ConnProbe 返回连接当前状态名, 以及是否仍可传输数据
type ConnProbe func() (state string, open bool)

// MetricsServer 指标服务器, 单会话进程内使用
type MetricsServer struct {
	addr        string
	metricsPath string
	healthPath  string

	registry *prometheus.Registry
	logger   *zap.Logger
	started  time.Time

	mu     sync.RWMutex
	health func() HealthStatus
	probe  ConnProbe
	srv    *http.Server
}

// NewMetricsServer 创建指标服务器, 使用独立 registry
func NewMetricsServer(addr, metricsPath, healthPath string, logger *zap.Logger) *MetricsServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	return &MetricsServer{
		addr:        addr,
		metricsPath: metricsPath,
		healthPath:  healthPath,
		registry:    reg,
		logger:      logger,
		started:     time.Now(),
	}
}

// RegisterCollector 注册收集器
func (s *MetricsServer) RegisterCollector(c prometheus.Collector) error {
	return s.registry.Register(c)
}

// GetRegistry 获取 registry
func (s *MetricsServer) GetRegistry() *prometheus.Registry {
	return s.registry
}

// SetHealthCheck 设置 /health 的状态来源
func (s *MetricsServer) SetHealthCheck(fn func() HealthStatus) {
	s.mu.Lock()
	s.health = fn
	s.mu.Unlock()
}

// SetConnProbe 设置 /health/conn 的状态来源
func (s *MetricsServer) SetConnProbe(fn ConnProbe) {
	s.mu.Lock()
	s.probe = fn
	s.mu.Unlock()
}

// Handler 路由
func (s *MetricsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.metricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          s.registry,
	}))
	mux.HandleFunc(s.healthPath, s.serveHealth)
	mux.HandleFunc(s.healthPath+"/conn", s.serveConn)
	return mux
}

// Start 监听并在后台服务, ctx 结束时关闭
func (s *MetricsServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("指标服务器错误", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("指标服务器已启动",
		zap.String("listen", ln.Addr().String()),
		zap.String("metrics", s.metricsPath),
		zap.String("health", s.healthPath))
	return nil
}

// Stop 关闭服务器, 可重复调用
func (s *MetricsServer) Stop() {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

func (s *MetricsServer) serveHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	fn := s.health
	s.mu.RUnlock()

	status := HealthStatus{Status: "healthy"}
	if fn != nil {
		status = fn()
	}
	status.Timestamp = time.Now()
	status.Uptime = time.Since(s.started).Round(time.Second).String()

	w.Header().Set("Content-Type", "application/json")
	if status.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

// serveConn 连接可传输数据时 200, 否则 503, 响应体为状态名
func (s *MetricsServer) serveConn(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	probe := s.probe
	s.mu.RUnlock()

	if probe == nil {
		http.Error(w, "no connection", http.StatusServiceUnavailable)
		return
	}
	state, open := probe()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !open {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	fmt.Fprintln(w, state)
}
