package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"greenfloor/config"
	"greenfloor/gateway"
)

func main() {
	cfgPath := flag.String("program", "config/program.yaml", "程序配置文件路径")
	symbol := flag.String("symbol", "", "只显示该 CAT 的行情（如 BYC），留空显示全部")
	flag.Parse()

	cfg, err := config.LoadProgram(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	feed := &gateway.PriceFeed{
		XCHPriceURL: cfg.PriceFeed.XCHPriceURL,
		TickersURL:  cfg.PriceFeed.TickersURL,
		HTTPClient:  gateway.NewDefaultHTTPClient(time.Duration(cfg.PriceFeed.TimeoutSeconds) * time.Second),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	price, err := feed.XCHPriceUSD(ctx)
	if err != nil {
		log.Fatalf("获取 XCH 价格失败: %v", err)
	}
	fmt.Printf("XCH/USD = %.4f\n", price)

	tickers, err := feed.Tickers(ctx)
	if err != nil {
		log.Fatalf("获取行情失败: %v", err)
	}
	filter := strings.ToUpper(strings.TrimSpace(*symbol))
	shown := 0
	for _, t := range tickers {
		if filter != "" && strings.ToUpper(t.BaseCurrency) != filter && !strings.HasPrefix(strings.ToUpper(t.TickerID), filter+"_") {
			continue
		}
		fmt.Printf("%-24s last=%s bid=%s ask=%s vol=%s\n", t.TickerID, t.LastPrice, t.Bid, t.Ask, t.BaseVolume)
		shown++
	}
	if shown == 0 {
		fmt.Printf("未找到 %s 的行情\n", filter)
	}
}
