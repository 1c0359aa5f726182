package client

import (
	"github.com/emersion/go-sasl"
)

type loginClient struct {
	username string
	password string
	step     int
}

// NewLoginClient returns a LOGIN client that answers the server's two
// challenges with the username and then the password, without an initial
// response:
//
//	C: AUTH LOGIN
//	S: 334 VXNlcm5hbWU6
//	C: base64(username)
//	S: 334 UGFzc3dvcmQ6
//	C: base64(password)
//	S: 235
//
// The challenge text is not checked, servers differ in wording.
func NewLoginClient(username, password string) sasl.Client {
	return &loginClient{username: username, password: password}
}

func (a *loginClient) Start() (string, []byte, error) {
	a.step = 0
	return sasl.Login, nil, nil
}

func (a *loginClient) Next([]byte) ([]byte, error) {
	a.step++
	switch a.step {
	case 1:
		return []byte(a.username), nil
	case 2:
		return []byte(a.password), nil
	default:
		return nil, sasl.ErrUnexpectedServerChallenge
	}
}
