package dto

type IssueTokenRequestDTO struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password"`
}

type IssueTokenResponseDTO struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}
