package shopify

import "time"

// productsResponse is the body of GET products.json
type productsResponse struct {
	Products []productResource `json:"products"`
}

// productResource holds the product fields requested from the platform
type productResource struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// errorResponse is the platform's error body
type errorResponse struct {
	Errors any `json:"errors"`
}
