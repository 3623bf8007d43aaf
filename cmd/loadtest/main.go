package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	windowID := flag.Int("window", 1, "flash sale window id")
	productID := flag.Int("product", 1, "product id")
	variantID := flag.String("variant", "DEFAULT", "variant id")
	preload := flag.Bool("preload", true, "call preload before test")
	adminToken := flag.String("admin-token", "dev-admin-token", "admin token for preload endpoint")
	stockCheck := flag.Bool("stock", true, "check redis stock after test")

	// 超卖测试参数：200 个用户并发抢同一条目
	nUsers := flag.Int("users", 200, "distinct users")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	if *preload {
		// 先预热 Redis 配额，再发并发请求，避免配额 key 缺失导致测试偏差。
		if err := doPOST(client, fmt.Sprintf("%s/api/flash_sale/preload/%d", *baseURL, *windowID), nil, map[string]string{
			"X-Admin-Token": *adminToken,
		}); err != nil {
			panic(fmt.Sprintf("preload failed: %v", err))
		}
		fmt.Println("preload ok")
	}

	// 1) 不超卖测试：不同 user 并发
	fmt.Printf("start oversell test: window=%d product=%d variant=%s users=%d concurrency=%d\n",
		*windowID, *productID, *variantID, *nUsers, *concurrency)
	results := runBuy(client, *baseURL, *windowID, *productID, *variantID, *nUsers, *concurrency)

	printSummary("oversell", results)

	if *stockCheck {
		remaining, err := getRemaining(client, *baseURL, *windowID, *productID, *variantID)
		if err != nil {
			fmt.Println("stock check err:", err)
		} else {
			fmt.Println("final remaining:", remaining)
		}
	}

	// 2) 限流测试：同一个 user 重复抢（更容易触发 429）
	fmt.Println("\nstart rate limit test: same user (10001), 50 requests, concurrency 50")
	results2 := runBuySameUser(client, *baseURL, *windowID, *productID, *variantID, 10001, 50, 50)
	printSummary("rate_limit", results2)
}

type buyReq struct {
	WindowID  int    `json:"window_id"`
	ProductID int    `json:"product_id"`
	VariantID string `json:"variant_id"`
	UserID    int64  `json:"user_id"`
	Quantity  int    `json:"quantity"`
}

func runBuy(client *http.Client, baseURL string, windowID, productID int, variantID string, nUsers, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, nUsers)

	for i := 0; i < nUsers; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			req := buyReq{WindowID: windowID, ProductID: productID, VariantID: variantID, UserID: int64(idx + 1), Quantity: 1}
			results[idx] = buyOnce(client, baseURL, req)
		}(i)
	}

	wg.Wait()
	return results
}

func runBuySameUser(client *http.Client, baseURL string, windowID, productID int, variantID string, userID int64, total, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			req := buyReq{WindowID: windowID, ProductID: productID, VariantID: variantID, UserID: userID, Quantity: 1}
			results[idx] = buyOnce(client, baseURL, req)
		}(i)
	}

	wg.Wait()
	return results
}

func buyOnce(client *http.Client, baseURL string, req any) Result {
	b, _ := json.Marshal(req)
	url := fmt.Sprintf("%s/api/flash_sale/buy", baseURL)
	httpReq, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(body)}
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 404, 409, 429, 500} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

// doPOST 发送 POST 请求（支持附加请求头）。
func doPOST(client *http.Client, url string, body any, headers map[string]string) error {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(http.MethodPost, url, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// getRemaining 查询条目剩余配额，用于压测后校验是否出现超卖。
func getRemaining(client *http.Client, baseURL string, windowID, productID int, variantID string) (int64, error) {
	url := fmt.Sprintf("%s/api/flash_sale/stock/%d/%d/%s", baseURL, windowID, productID, variantID)
	resp, err := client.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Code int `json:"code"`
		Data struct {
			Remaining int64 `json:"remaining"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, err
	}
	return out.Data.Remaining, nil
}
