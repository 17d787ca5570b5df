package merchant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// the capability the sync engine consumes. the concrete implementation
// is `MerchantApi`; tests substitute in-memory fakes
type RemoteStore interface {
	FetchAllSync(fetchAll *FetchAllArgs) (*FetchAllResult, error)
	UpsertSync(upsert *UpsertArgs) (*WriteResult, error)
	UpdateSync(update *UpdateArgs) (*WriteResult, error)
	DeleteSync(delete_ *DeleteArgs) (*WriteResult, error)
}

type Filter map[string]any

type FetchAllArgs struct {
	Table     string `json:"table"`
	Filter    Filter `json:"filter,omitempty"`
	OrderBy   string `json:"order_by,omitempty"`
	Ascending bool   `json:"ascending,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type FetchAllResult struct {
	Records []json.RawMessage `json:"records"`
}

type UpsertArgs struct {
	Table       string `json:"table"`
	Record      any    `json:"record"`
	ConflictKey string `json:"conflict_key,omitempty"`
}

type UpdateArgs struct {
	Table  string         `json:"table"`
	Filter Filter         `json:"filter"`
	Patch  map[string]any `json:"patch"`
}

type DeleteArgs struct {
	Table  string `json:"table"`
	Filter Filter `json:"filter"`
}

type WriteResult struct {
	Error *WriteResultError `json:"error,omitempty"`
}

type WriteResultError struct {
	// the remote rejected the write because the stored state moved on
	Conflict bool   `json:"conflict,omitempty"`
	Message  string `json:"message"`
}

type FetchAllCallback apiCallback[*FetchAllResult]
type WriteCallback apiCallback[*WriteResult]

// http client for the remote persistent store.
// one instance per process, injected into collaborators, closed at exit
type MerchantApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	sessionJwt string
}

func NewMerchantApi(apiUrl string) *MerchantApi {
	return NewMerchantApiWithContext(context.Background(), apiUrl)
}

func NewMerchantApiWithContext(ctx context.Context, apiUrl string) *MerchantApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &MerchantApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *MerchantApi) SetSessionJwt(sessionJwt string) {
	self.sessionJwt = sessionJwt
}

func (self *MerchantApi) SessionJwt() string {
	return self.sessionJwt
}

func (self *MerchantApi) FetchAll(fetchAll *FetchAllArgs, callback FetchAllCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/store/fetch-all", self.apiUrl),
		fetchAll,
		self.sessionJwt,
		&FetchAllResult{},
		callback,
	)
}

func (self *MerchantApi) FetchAllSync(fetchAll *FetchAllArgs) (*FetchAllResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/store/fetch-all", self.apiUrl),
		fetchAll,
		self.sessionJwt,
		&FetchAllResult{},
		NewNoopApiCallback[*FetchAllResult](),
	)
}

func (self *MerchantApi) Upsert(upsert *UpsertArgs, callback WriteCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/store/upsert", self.apiUrl),
		upsert,
		self.sessionJwt,
		&WriteResult{},
		callback,
	)
}

func (self *MerchantApi) UpsertSync(upsert *UpsertArgs) (*WriteResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/store/upsert", self.apiUrl),
		upsert,
		self.sessionJwt,
		&WriteResult{},
		NewNoopApiCallback[*WriteResult](),
	)
}

func (self *MerchantApi) Update(update *UpdateArgs, callback WriteCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/store/update", self.apiUrl),
		update,
		self.sessionJwt,
		&WriteResult{},
		callback,
	)
}

func (self *MerchantApi) UpdateSync(update *UpdateArgs) (*WriteResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/store/update", self.apiUrl),
		update,
		self.sessionJwt,
		&WriteResult{},
		NewNoopApiCallback[*WriteResult](),
	)
}

func (self *MerchantApi) Delete(delete_ *DeleteArgs, callback WriteCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/store/delete", self.apiUrl),
		delete_,
		self.sessionJwt,
		&WriteResult{},
		callback,
	)
}

func (self *MerchantApi) DeleteSync(delete_ *DeleteArgs) (*WriteResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/store/delete", self.apiUrl),
		delete_,
		self.sessionJwt,
		&WriteResult{},
		NewNoopApiCallback[*WriteResult](),
	)
}

type AuthLoginCallback apiCallback[*AuthLoginResult]

type AuthLoginArgs struct {
	UserAuth string `json:"user_auth"`
	Password string `json:"password"`
}

type AuthLoginResult struct {
	Session *AuthLoginResultSession `json:"session,omitempty"`
	Error   *AuthLoginResultError   `json:"error,omitempty"`
}

type AuthLoginResultSession struct {
	ByJwt        string `json:"by_jwt"`
	MerchantName string `json:"merchant_name,omitempty"`
}

type AuthLoginResultError struct {
	Message string `json:"message"`
}

func (self *MerchantApi) AuthLogin(authLogin *AuthLoginArgs, callback AuthLoginCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/auth/login-with-password", self.apiUrl),
		authLogin,
		self.sessionJwt,
		&AuthLoginResult{},
		callback,
	)
}

func (self *MerchantApi) AuthLoginSync(authLogin *AuthLoginArgs) (*AuthLoginResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/auth/login-with-password", self.apiUrl),
		authLogin,
		self.sessionJwt,
		&AuthLoginResult{},
		NewNoopApiCallback[*AuthLoginResult](),
	)
}

// websocket url for the change feed of one table filtered by merchant
func (self *MerchantApi) FeedUrl(table string, merchantId string) string {
	feedUrl := self.apiUrl
	if strings.HasPrefix(feedUrl, "https://") {
		feedUrl = "wss://" + feedUrl[len("https://"):]
	} else if strings.HasPrefix(feedUrl, "http://") {
		feedUrl = "ws://" + feedUrl[len("http://"):]
	}
	return fmt.Sprintf(
		"%s/store/subscribe?table=%s&merchant_id=%s",
		feedUrl,
		url.QueryEscape(table),
		url.QueryEscape(merchantId),
	)
}

func (self *MerchantApi) Close() {
	self.cancel()
}

// decode a fetch result into typed records
func DecodeRecords[T any](result *FetchAllResult) ([]T, error) {
	records := make([]T, 0, len(result.Records))
	for _, recordJson := range result.Records {
		var record T
		if err := json.Unmarshal(recordJson, &record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func post[R any](ctx context.Context, url string, args any, sessionJwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if sessionJwt != "" {
		auth := fmt.Sprintf("Bearer %s", sessionJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		err = &TransientError{Op: "post", Err: err}
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func get[R any](ctx context.Context, url string, sessionJwt string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if sessionJwt != "" {
		auth := fmt.Sprintf("Bearer %s", sessionJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		err = &TransientError{Op: "get", Err: err}
		callback.Result(empty, err)
		return empty, err
	}

	responseBodyBytes, err := io.ReadAll(r.Body)
	r.Body.Close()

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
