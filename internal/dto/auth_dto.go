package dto

// AuthUser is the user block returned after sign-in.
type AuthUser struct {
	ID           uint   `json:"id"`
	Nickname     string `json:"nickname"`
	Email        string `json:"email"`
	ProfileImage string `json:"profileImage"`
}

// AuthResponse carries a fresh token pair.
type AuthResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	User         *AuthUser `json:"user,omitempty"`
}

// RefreshRequest exchanges a refresh token for a new pair.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// GoogleProfile is the subset of the Google userinfo document used for sign-in.
type GoogleProfile struct {
	Subject    string `json:"sub"`
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Name       string `json:"name"`
	Picture    string `json:"picture"`
}
