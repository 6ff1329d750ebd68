package domain

import "time"

// All monetary values are integer cents.

const (
	EntitySale            = "sale"
	EntityRefund          = "refund"
	EntityStockAdjustment = "stock_adjustment"
	EntityShift           = "shift"
)

const (
	OpCreate = "create"
	OpUpdate = "update"
)

const (
	StatusSynced        = "synced"
	StatusAlreadyExists = "already_exists"
	StatusError         = "error"
)

const (
	RefundStatusNone    = "none"
	RefundStatusPartial = "partial"
	RefundStatusFull    = "full"
)

const (
	PaymentCash = "cash"
	PaymentCard = "card"
)

const (
	AdjustmentAdd    = "add"
	AdjustmentRemove = "remove"
	AdjustmentSet    = "set"
)

type Product struct {
	ID            string    `json:"id"`
	Barcode       string    `json:"barcode"`
	Name          string    `json:"name"`
	CategoryID    string    `json:"category_id,omitempty"`
	PurchaseCents int64     `json:"purchase_cents"`
	SaleCents     int64     `json:"sale_cents"`
	Active        bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	StoreID   string    `json:"store_id"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserAccount is the central-side persistence model for auth credentials.
// The password hash never travels on the pull feed.
type UserAccount struct {
	User
	PasswordHash string
}

type Store struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Device struct {
	ID             string     `json:"id"`
	StoreID        string     `json:"store_id"`
	Name           string     `json:"name,omitempty"`
	ActivationCode string     `json:"-"`
	Activated      bool       `json:"is_activated"`
	ActivatedAt    *time.Time `json:"activated_at,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
}

// SaleItem snapshots the product's name, barcode and prices at sale time so
// later catalog changes never alter a historical receipt.
type SaleItem struct {
	ID            string    `json:"id"`
	SaleID        string    `json:"sale_id"`
	ProductID     string    `json:"product_id"`
	ProductName   string    `json:"product_name"`
	Barcode       string    `json:"barcode,omitempty"`
	Quantity      int       `json:"quantity"`
	UnitCents     int64     `json:"unit_cents"`
	PurchaseCents int64     `json:"purchase_cents"`
	TotalCents    int64     `json:"total_cents"`
	CreatedAt     time.Time `json:"created_at"`
}

type Payment struct {
	ID          string    `json:"id"`
	SaleID      string    `json:"sale_id"`
	Method      string    `json:"method"`
	AmountCents int64     `json:"amount_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

// Sale ids are assigned at the edge so a replayed push is detectable by
// identity, not content.
type Sale struct {
	ID            string     `json:"id"`
	ReceiptNumber string     `json:"receipt_number"`
	StoreID       string     `json:"store_id"`
	DeviceID      string     `json:"device_id"`
	UserID        string     `json:"user_id"`
	ShiftID       string     `json:"shift_id,omitempty"`
	TotalCents    int64      `json:"total_cents"`
	DiscountCents int64      `json:"discount_cents"`
	FinalCents    int64      `json:"final_cents"`
	RefundStatus  string     `json:"refund_status"`
	CreatedAt     time.Time  `json:"created_at"`
	Items         []SaleItem `json:"items"`
	Payments      []Payment  `json:"payments"`
}

type Refund struct {
	ID          string    `json:"id"`
	SaleID      string    `json:"sale_id"`
	SaleItemID  string    `json:"sale_item_id,omitempty"`
	ProductID   string    `json:"product_id,omitempty"`
	ProductName string    `json:"product_name,omitempty"`
	Quantity    int       `json:"quantity"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason,omitempty"`
	StoreID     string    `json:"store_id"`
	UserID      string    `json:"user_id"`
	DeviceID    string    `json:"device_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type Shift struct {
	ID                  string     `json:"id"`
	StoreID             string     `json:"store_id"`
	DeviceID            string     `json:"device_id"`
	UserID              string     `json:"user_id"`
	OpeningCashCents    int64      `json:"opening_cash_cents"`
	ClosingCashCents    *int64     `json:"closing_cash_cents,omitempty"`
	TotalSalesCents     int64      `json:"total_sales_cents"`
	ExpectedCashCents   *int64     `json:"expected_cash_cents,omitempty"`
	CashDifferenceCents *int64     `json:"cash_difference_cents,omitempty"`
	IsOpen              bool       `json:"is_open"`
	OpenedAt            time.Time  `json:"opened_at"`
	ClosedAt            *time.Time `json:"closed_at,omitempty"`
}

type StockRecord struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	Quantity    int       `json:"quantity"`
	MinQuantity int       `json:"min_quantity"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type StockAdjustment struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Type      string    `json:"adjustment_type"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason,omitempty"`
	StoreID   string    `json:"store_id"`
	UserID    string    `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	StoreID     string `json:"store_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	UserID   string
	Username string
	Role     string
}

type ActivateRequest struct {
	ActivationCode string `json:"activation_code"`
}

type ActivateResponse struct {
	DeviceID  string `json:"device_id"`
	StoreID   string `json:"store_id"`
	StoreName string `json:"store_name"`
}
