package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"greenfloor/config"
	"greenfloor/gateway"
)

func main() {
	cfgPath := flag.String("program", "config/program.yaml", "程序配置文件路径")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.LoadProgramWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if !gateway.CertsPresent(cfg.Sage.CertPath, cfg.Sage.KeyPath) {
		log.Fatalf("未找到 Sage 钱包证书（数据目录 %s）", gateway.SageDataDir())
	}

	client, err := gateway.NewSageClient(gateway.SageOptions{
		Host:        cfg.Sage.Host,
		Port:        cfg.Sage.Port,
		CertPath:    cfg.Sage.CertPath,
		KeyPath:     cfg.Sage.KeyPath,
		Fingerprint: cfg.Sage.Fingerprint,
		Timeout:     10 * time.Second,
	})
	if err != nil {
		log.Fatalf("创建 Sage 客户端失败: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key, err := client.GetKey(ctx)
	if err != nil {
		log.Fatalf("获取钱包信息失败: %v", err)
	}
	if key == nil {
		fmt.Println("Sage 未登录任何钱包")
	} else {
		fmt.Printf("当前钱包: %s fingerprint=%d\n", key.Name, key.Fingerprint)
	}
	if err := client.CheckFingerprint(ctx); err != nil {
		fmt.Printf("fingerprint 校验失败: %v\n", err)
	}

	st, err := client.GetSyncStatus(ctx)
	if err != nil {
		log.Fatalf("获取同步状态失败: %v", err)
	}
	fmt.Printf("余额(mojos)=%s 已同步币=%d/%d 收款地址=%s\n", st.Balance, st.SyncedCoins, st.TotalCoins, st.ReceiveAddress)
}
