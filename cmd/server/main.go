// cmd/server/main.go
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Corphon/Lumina/internal/api"
	"github.com/Corphon/Lumina/internal/app"
	"github.com/Corphon/Lumina/internal/config"
	"github.com/Corphon/Lumina/internal/di"
	"github.com/Corphon/Lumina/internal/services"
)

func main() {
	log.Println("🚀 启动 Lumina 服务器...")

	// 1. 首先加载基础配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 基础配置加载完成，端口: %s", baseConfig.Port)

	// 2. 创建必要的目录
	createDirectories(baseConfig)
	log.Println("✅ 目录结构创建完成")

	// 3. 初始化配置系统
	if err := config.InitConfig(baseConfig.DataDir); err != nil {
		log.Fatalf("初始化配置系统失败: %v", err)
	}
	log.Println("✅ 配置系统初始化完成")

	// 4. 初始化所有服务（按依赖顺序）
	if err := app.InitServices(); err != nil {
		log.Fatalf("初始化服务失败: %v", err)
	}
	log.Printf("✅ 所有服务初始化完成，服务数量: %d", len(di.GetContainer().GetNames()))

	if err := performHealthCheck(); err != nil {
		log.Printf("⚠️ 服务健康检查警告: %v", err)
	}

	// 5. 设置路由（只获取服务，不创建）
	router, err := api.SetupRouter()
	if err != nil {
		log.Fatalf("❌ 设置路由失败: %v", err)
	}
	log.Println("✅ 路由设置完成")

	stopJanitor := startProgressJanitor()

	// 6. 启动服务器
	log.Printf("🌐 服务器启动在端口 %s", baseConfig.Port)
	log.Printf("🔗 访问地址: http://localhost:%s/api/health", baseConfig.Port)

	application := app.GetApp()
	runErr := application.Run(router, baseConfig.Port)
	close(stopJanitor)
	application.Cleanup()
	if runErr != nil {
		log.Fatalf("❌ %v", runErr)
	}
}

// 健康检查函数
func performHealthCheck() error {
	container := di.GetContainer()

	criticalServices := []string{"generator", "sessions", "history", "assets", "websocket"}
	for _, serviceName := range criticalServices {
		if service := container.Get(serviceName); service == nil {
			return fmt.Errorf("关键服务未注册: %s", serviceName)
		}
	}

	log.Println("✅ 服务健康检查通过")
	return nil
}

// startProgressJanitor 定期清理已结束的进度跟踪器
func startProgressJanitor() chan struct{} {
	stop := make(chan struct{})
	progress, ok := di.GetContainer().Get("progress").(*services.ProgressService)
	if !ok {
		return stop
	}

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := progress.CleanupCompletedTasks(time.Hour); removed > 0 {
					log.Printf("🧹 已清理 %d 个过期进度任务", removed)
				}
			case <-stop:
				return
			}
		}
	}()
	return stop
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.Config) {
	dirs := []string{
		cfg.DataDir,
		filepath.Join(cfg.DataDir, "history"),
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("创建目录失败 %s: %v", dir, err)
		}
	}
}
