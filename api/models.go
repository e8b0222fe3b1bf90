package api

// LoginRequest is the JSON body for POST /auth/login. SessionToken is
// optional: a client retrying a login it never saw the response for can
// pass the token back to reuse the outstanding challenge instead of
// triggering a second code delivery.
type LoginRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	SessionToken string `json:"session_token,omitempty"`
}

// ChallengeInfo describes the challenge the client must answer next.
// It only ever carries data safe to disclose.
type ChallengeInfo struct {
	Factor            string `json:"factor"`
	MaskedDestination string `json:"masked_destination,omitempty"`
}

// LoginResponse is returned from POST /auth/login when a challenge is
// required.
type LoginResponse struct {
	SessionToken string        `json:"session_token"`
	Challenge    ChallengeInfo `json:"challenge"`
}

// RespondRequest is the JSON body for POST /auth/respond.
type RespondRequest struct {
	SessionToken string `json:"session_token"`
	Answer       string `json:"answer"`
}

// TokenResponse is the terminal-accept payload: a signed access token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ErrorResponse carries a machine-readable reason code. Policy and
// challenge rejections get specific codes; infrastructure failures get
// a generic one and never leak internal detail.
type ErrorResponse struct {
	Error string `json:"error"`
}
