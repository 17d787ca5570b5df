package merchant

import (
	"errors"
	"sync"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// identity carried by the session jwt. parsed unverified at this
// boundary; the remote store verifies the signature on every call
type SessionJwt struct {
	UserId       Id
	MerchantId   string
	MerchantName string
}

func ParseSessionJwtUnverified(sessionJwt string) (*SessionJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(sessionJwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	session := &SessionJwt{}

	if userIdStr, ok := claims["user_id"]; ok {
		if userId, err := ParseId(userIdStr.(string)); err == nil {
			session.UserId = userId
		}
	}
	if merchantId, ok := claims["merchant_id"]; ok {
		session.MerchantId, _ = merchantId.(string)
	}
	if merchantName, ok := claims["merchant_name"]; ok {
		session.MerchantName, _ = merchantName.(string)
	}

	if session.MerchantId == "" {
		return nil, errors.New("session jwt is missing the merchant id")
	}

	return session, nil
}

type SessionChangeFunction func(session *SessionJwt)

// session lifecycle for the merchant api.
// yields the current identity and notifies on sign in and sign out
type AuthSession struct {
	api *MerchantApi

	stateLock sync.Mutex
	session   *SessionJwt

	sessionCallbacks *CallbackList[SessionChangeFunction]
}

func NewAuthSession(api *MerchantApi) *AuthSession {
	return &AuthSession{
		api:              api,
		sessionCallbacks: NewCallbackList[SessionChangeFunction](),
	}
}

func (self *AuthSession) SetSession(sessionJwt string) (*SessionJwt, error) {
	session, err := ParseSessionJwtUnverified(sessionJwt)
	if err != nil {
		return nil, err
	}

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.session = session
	}()
	self.api.SetSessionJwt(sessionJwt)

	self.sessionChanged(session)
	return session, nil
}

// nil when signed out
func (self *AuthSession) CurrentUser() *SessionJwt {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.session
}

func (self *AuthSession) AddSessionChangeCallback(sessionCallback SessionChangeFunction) func() {
	callbackId := self.sessionCallbacks.Add(sessionCallback)
	return func() {
		self.sessionCallbacks.Remove(callbackId)
	}
}

func (self *AuthSession) SignOut() {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.session = nil
	}()
	self.api.SetSessionJwt("")

	self.sessionChanged(nil)
}

func (self *AuthSession) sessionChanged(session *SessionJwt) {
	for _, sessionCallback := range self.sessionCallbacks.Get() {
		func() {
			defer recover()
			sessionCallback(session)
		}()
	}
}
