package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/dennis25518/simba-merchant-sync/merchant"
)

const MerchantCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	godotenv.Load()

	usage := `Merchant sync control.

The default api url is taken from the MERCHANT_API_URL env var,
and the default jwt from MERCHANT_JWT. A .env file in the working
directory is loaded first.

Usage:
    merchantctl login [--api_url=<api_url>]
        --user_auth=<user_auth>
        [--password=<password>]
    merchantctl whoami [--jwt=<jwt>]
    merchantctl orders [--api_url=<api_url>] [--jwt=<jwt>]
        [--status=<status>]
    merchantctl accept [--api_url=<api_url>] [--jwt=<jwt>] <order_id>
    merchantctl complete [--api_url=<api_url>] [--jwt=<jwt>] <order_id>
    merchantctl status [--api_url=<api_url>] [--jwt=<jwt>]
        [--visible=<visible>] [--prep_time=<prep_time>]
    merchantctl inventory [--api_url=<api_url>] [--jwt=<jwt>]
    merchantctl payout [--api_url=<api_url>] [--jwt=<jwt>]
        --amount=<amount> --phone=<phone>
    merchantctl metrics [--api_url=<api_url>] [--jwt=<jwt>]
        [--range=<range>]
    merchantctl watch [--api_url=<api_url>] [--jwt=<jwt>]
        [--duration=<seconds>]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --api_url=<api_url>
    --jwt=<jwt>                Your merchant session JWT.
    --user_auth=<user_auth>    Email or phone.
    --password=<password>      Password. Prompted when omitted.
    --status=<status>          Filter orders by status.
    --visible=<visible>        true or false.
    --prep_time=<prep_time>    Preparation time in minutes.
    --amount=<amount>          Payout amount in TZS.
    --phone=<phone>            M-Pesa phone number.
    --range=<range>            weekly or monthly [default: weekly].
    --duration=<seconds>       Watch this long then exit.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], MerchantCtlVersion)
	if err != nil {
		panic(err)
	}

	if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if whoami_, _ := opts.Bool("whoami"); whoami_ {
		whoami(opts)
	} else if orders_, _ := opts.Bool("orders"); orders_ {
		orders(opts)
	} else if accept_, _ := opts.Bool("accept"); accept_ {
		acceptOrder(opts)
	} else if complete_, _ := opts.Bool("complete"); complete_ {
		completeOrder(opts)
	} else if status_, _ := opts.Bool("status"); status_ {
		status(opts)
	} else if inventory_, _ := opts.Bool("inventory"); inventory_ {
		inventory(opts)
	} else if payout_, _ := opts.Bool("payout"); payout_ {
		payout(opts)
	} else if metrics_, _ := opts.Bool("metrics"); metrics_ {
		metrics(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	}
}

func apiUrl(opts docopt.Opts) string {
	if apiUrl_, err := opts.String("--api_url"); err == nil && apiUrl_ != "" {
		return apiUrl_
	}
	return os.Getenv("MERCHANT_API_URL")
}

func sessionJwt(opts docopt.Opts) string {
	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		return jwt
	}
	return os.Getenv("MERCHANT_JWT")
}

func newApi(opts docopt.Opts) *merchant.MerchantApi {
	api := merchant.NewMerchantApi(apiUrl(opts))
	api.SetSessionJwt(sessionJwt(opts))
	return api
}

func requireSession(opts docopt.Opts) *merchant.SessionJwt {
	session, err := merchant.ParseSessionJwtUnverified(sessionJwt(opts))
	if err != nil {
		Err.Fatalf("Invalid session jwt (%s).", err)
	}
	return session
}

func login(opts docopt.Opts) {
	userAuth, _ := opts.String("--user_auth")

	password, _ := opts.String("--password")
	if password == "" {
		fmt.Print("Password: ")
		passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			Err.Fatalf("Could not read password (%s).", err)
		}
		password = string(passwordBytes)
	}

	api := merchant.NewMerchantApi(apiUrl(opts))
	defer api.Close()

	result, err := api.AuthLoginSync(&merchant.AuthLoginArgs{
		UserAuth: userAuth,
		Password: password,
	})
	if err != nil {
		Err.Fatalf("Login failed (%s).", err)
	}
	if result.Error != nil {
		Err.Fatalf("Login failed (%s).", result.Error.Message)
	}
	if result.Session == nil {
		Err.Fatalf("Login returned no session.")
	}

	Out.Printf("%s", result.Session.ByJwt)
}

func whoami(opts docopt.Opts) {
	session := requireSession(opts)
	Out.Printf("user_id: %s", session.UserId)
	Out.Printf("merchant_id: %s", session.MerchantId)
	Out.Printf("merchant_name: %s", session.MerchantName)
}

func orders(opts docopt.Opts) {
	session := requireSession(opts)
	api := newApi(opts)
	defer api.Close()

	status, _ := opts.String("--status")

	orders, err := merchant.FetchOrders(api, session.MerchantId, merchant.OrderStatus(status))
	if err != nil {
		Err.Fatalf("Could not fetch orders (%s).", err)
	}

	for _, order := range orders {
		Out.Printf(
			"%s  %s  %s  TZS %s  (%d items)",
			order.DisplayId,
			order.Status,
			order.CreatedTime.Format(time.RFC3339),
			order.TotalAmount,
			len(order.Items),
		)
	}
}

func acceptOrder(opts docopt.Opts) {
	mutateOrder(opts, merchant.AcceptOrderTransform, "accepted")
}

func completeOrder(opts docopt.Opts) {
	mutateOrder(opts, merchant.CompleteOrderTransform, "completed")
}

func mutateOrder(opts docopt.Opts, transform merchant.TransformFunction[*merchant.Order], verb string) {
	orderIdStr, _ := opts.String("<order_id>")
	orderId, err := merchant.ParseId(orderIdStr)
	if err != nil {
		Err.Fatalf("Invalid order_id (%s).", err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := requireSession(opts)
	api := newApi(opts)
	defer api.Close()

	client := merchant.NewMerchantClientWithDefaults(cancelCtx, api, session)
	defer client.Close()

	if !waitLoaded(cancelCtx, client, 30*time.Second) {
		Err.Fatalf("Timed out waiting for the initial order load.")
	}

	outcome, err := client.Mutate(cancelCtx, orderId, transform)
	if err != nil {
		Err.Fatalf("Order not %s (%s).", verb, err)
	}
	Out.Printf("Order %s (%s).", verb, outcome)
}

func status(opts docopt.Opts) {
	session := requireSession(opts)
	api := newApi(opts)
	defer api.Close()

	merchantStatus, err := merchant.EnsureMerchantStatus(api, session.MerchantId)
	if err != nil {
		Err.Fatalf("Could not load merchant status (%s).", err)
	}

	if visibleStr, err := opts.String("--visible"); err == nil && visibleStr != "" {
		visible := visibleStr == "true"
		transform := merchant.SetVisibilityTransform(visible)
		if merchantStatus, err = writeStatus(api, merchantStatus, transform); err != nil {
			Err.Fatalf("Could not update visibility (%s).", err)
		}
	}
	if prepTime, err := opts.Int("--prep_time"); err == nil && 0 < prepTime {
		transform := merchant.SetPrepTimeTransform(prepTime)
		if merchantStatus, err = writeStatus(api, merchantStatus, transform); err != nil {
			Err.Fatalf("Could not update prep time (%s).", err)
		}
	}

	Out.Printf("visible: %t", merchantStatus.IsVisible)
	Out.Printf("prep_time_minutes: %d", merchantStatus.PrepTimeMinutes)
	Out.Printf("auto_print_receipt: %t", merchantStatus.AutoPrintReceipt)
	Out.Printf("order_chime_enabled: %t", merchantStatus.OrderChimeEnabled)
}

func writeStatus(
	api *merchant.MerchantApi,
	merchantStatus *merchant.MerchantStatus,
	transform merchant.TransformFunction[*merchant.MerchantStatus],
) (*merchant.MerchantStatus, error) {
	updated, err := transform(merchantStatus)
	if err != nil {
		return nil, err
	}
	write := merchant.MerchantStatusWrite(api)
	if err := write(context.Background(), updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func inventory(opts docopt.Opts) {
	session := requireSession(opts)
	api := newApi(opts)
	defer api.Close()

	items, err := merchant.FetchInventory(api, session.MerchantId)
	if err != nil {
		Err.Fatalf("Could not fetch inventory (%s).", err)
	}

	for _, item := range items {
		Out.Printf(
			"%s  %s  %d/%d  %s",
			item.ProductId,
			item.ProductName,
			item.CurrentStock,
			item.MaximumStock,
			item.Status,
		)
	}

	buckets := merchant.ComputeInventoryBuckets(items)
	Out.Printf("danger: %d, warning: %d, good: %d", buckets.Danger, buckets.Warning, buckets.Good)
}

func payout(opts docopt.Opts) {
	session := requireSession(opts)
	api := newApi(opts)
	defer api.Close()

	amountStr, _ := opts.String("--amount")
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		Err.Fatalf("Invalid amount (%s).", err)
	}
	phone, _ := opts.String("--phone")

	request, err := merchant.SubmitPaymentRequest(
		api,
		session.MerchantId,
		session.MerchantName,
		amount,
		phone,
	)
	if err != nil {
		Err.Fatalf("Payout request failed (%s).", err)
	}
	Out.Printf("Payout requested: %s TZS %s (%s).", request.RequestId, request.Amount, request.Status)
}

func metrics(opts docopt.Opts) {
	session := requireSession(opts)
	api := newApi(opts)
	defer api.Close()

	rangeStr, _ := opts.String("--range")
	metricsRange := merchant.MetricsRange(rangeStr)

	orders, err := merchant.FetchOrders(api, session.MerchantId, "")
	if err != nil {
		Err.Fatalf("Could not fetch orders (%s).", err)
	}

	performance := merchant.ComputePerformanceMetrics(orders, metricsRange, time.Now(), time.Local)
	for _, daily := range performance.Daily {
		Out.Printf("%s %s  TZS %s", daily.Date.Format("2006-01-02"), daily.Day, daily.Earnings)
	}
	Out.Printf("total: TZS %s", performance.RangeTotal)
	Out.Printf("daily average: TZS %s", performance.DailyAverage)
}

func watch(opts docopt.Opts) {
	duration := time.Duration(0)
	if seconds, err := opts.Int("--duration"); err == nil && 0 < seconds {
		duration = time.Duration(seconds) * time.Second
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := requireSession(opts)
	api := newApi(opts)
	defer api.Close()

	client := merchant.NewMerchantClientWithDefaults(cancelCtx, api, session)
	defer client.Close()

	if !waitLoaded(cancelCtx, client, 30*time.Second) {
		Err.Fatalf("Timed out waiting for the initial load.")
	}

	var endTime <-chan time.Time
	if 0 < duration {
		endTime = time.After(duration)
	}

	for {
		projections := client.Projections()
		Out.Printf(
			"revenue today: TZS %s, unread: %d, orders: %v, inventory: danger %d warning %d good %d",
			projections.RevenueToday,
			projections.UnreadCount,
			projections.OrderStatusBuckets,
			projections.InventoryBuckets.Danger,
			projections.InventoryBuckets.Warning,
			projections.InventoryBuckets.Good,
		)

		select {
		case <-cancelCtx.Done():
			return
		case <-endTime:
			return
		case <-client.UpdateChannel():
		}
	}
}

func waitLoaded(ctx context.Context, client *merchant.MerchantClient, timeout time.Duration) bool {
	endTime := time.Now().Add(timeout)
	for time.Now().Before(endTime) {
		if _, loading, _ := client.Orders(); !loading {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(200 * time.Millisecond):
		}
	}
	return false
}
