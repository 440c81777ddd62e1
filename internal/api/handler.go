package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"medipickup/m/domain"
	"medipickup/m/internal/inventory"
	"medipickup/m/internal/order"
)

type ctxKey string

const (
	ctxUserID     ctxKey = "userID"
	ctxRole       ctxKey = "role"
	ctxPharmacyID ctxKey = "pharmacyID"
)

const defaultRadiusMeters = 2000.0

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	db      *sqlx.DB
	orders  *order.Service
	ledger  *inventory.Ledger
	sockets http.Handler
	secret  string
	log     zerolog.Logger
}

// New constructs a Handler.
func New(db *sqlx.DB, orders *order.Service, ledger *inventory.Ledger, sockets http.Handler, secret string, log zerolog.Logger) *Handler {
	return &Handler{db: db, orders: orders, ledger: ledger, sockets: sockets, secret: secret, log: log.With().Str("component", "api").Logger()}
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Handle("/ws", h.sockets)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
	})

	// Browsing is open; ordering and administration require a token.
	r.Get("/pharmacies/nearby", h.nearbyPharmacies)
	r.Get("/pharmacies", h.listPharmacies)
	r.Get("/pharmacies/{id}", h.getPharmacy)
	r.Get("/medicines", h.listMedicines)
	r.Get("/medicines/pharmacy/{pharmacyId}", h.medicinesForPharmacy)

	r.Group(func(pr chi.Router) {
		pr.Use(h.authMiddleware)

		pr.Post("/pharmacies", h.createPharmacy)
		pr.Post("/medicines", h.createMedicine)

		pr.Route("/inventory", func(r chi.Router) {
			r.Put("/", h.upsertInventory)
			r.Get("/{pharmacyId}", h.inventoryForPharmacy)
		})

		pr.Route("/orders", func(r chi.Router) {
			r.Post("/", h.createOrder)
			r.Get("/customer", h.customerOrders)
			r.Get("/pharmacy/{pharmacyId}", h.pharmacyOrders)
			r.Patch("/{id}/status", h.updateOrderStatus)
			r.Get("/{id}", h.getOrder)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

// Authentication helpers

type authClaims struct {
	UserID     int64  `json:"user_id"`
	Role       string `json:"role"`
	PharmacyID int64  `json:"pharmacy_id,omitempty"`
	jwt.RegisteredClaims
}

func (h *Handler) generateToken(userID int64, role string, pharmacyID int64) (string, error) {
	claims := authClaims{
		UserID:     userID,
		Role:       role,
		PharmacyID: pharmacyID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.secret))
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimSpace(header[len("Bearer "):])
		token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(h.secret), nil
		})
		if err != nil || !token.Valid {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		claims, ok := token.Claims.(*authClaims)
		if !ok {
			respondError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID)
		ctx = context.WithValue(ctx, ctxRole, claims.Role)
		ctx = context.WithValue(ctx, ctxPharmacyID, claims.PharmacyID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, allowed ...string) bool {
	role := r.Context().Value(ctxRole)
	if role == nil {
		respondError(w, http.StatusUnauthorized, "missing role")
		return false
	}
	current := role.(string)
	for _, allowedRole := range allowed {
		if current == allowedRole {
			return true
		}
	}
	respondError(w, http.StatusForbidden, "insufficient permissions")
	return false
}

func principalFrom(r *http.Request) order.Principal {
	p := order.Principal{}
	if id, ok := r.Context().Value(ctxUserID).(int64); ok {
		p.UserID = id
	}
	if role, ok := r.Context().Value(ctxRole).(string); ok {
		p.Role = role
	}
	return p
}

// Auth Handlers

type registerRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Role       string `json:"role"`
	Phone      string `json:"phone,omitempty"`
	PharmacyID *int64 `json:"pharmacy_id,omitempty"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.Email == "" || req.Password == "" || req.Role == "" {
		respondError(w, http.StatusBadRequest, "name, email, password and role are required")
		return
	}
	if req.Role != domain.RoleCustomer && req.Role != domain.RoleAdmin {
		respondError(w, http.StatusBadRequest, "role must be customer or admin")
		return
	}
	if req.Role == domain.RoleAdmin && req.PharmacyID == nil {
		respondError(w, http.StatusBadRequest, "pharmacy_id is required for admins")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to secure password")
		return
	}

	var userID int64
	err = h.db.QueryRowx(`INSERT INTO users (name, email, password, role, phone, pharmacy_id) VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		req.Name, strings.ToLower(req.Email), hashed, req.Role, req.Phone, req.PharmacyID).Scan(&userID)
	if err != nil {
		respondError(w, http.StatusConflict, "email already exists")
		return
	}

	var pharmacyID int64
	if req.PharmacyID != nil {
		pharmacyID = *req.PharmacyID
	}
	token, err := h.generateToken(userID, req.Role, pharmacyID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to generate token")
		return
	}

	respondJSON(w, http.StatusCreated, authResponse{Token: token, User: domain.User{
		ID: userID, Name: req.Name, Email: strings.ToLower(req.Email), Role: req.Role, Phone: req.Phone, PharmacyID: req.PharmacyID,
	}})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var user domain.User
	err := h.db.Get(&user, `SELECT id, name, email, password, role, phone, pharmacy_id FROM users WHERE email = ?`, strings.ToLower(req.Email))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	var pharmacyID int64
	if user.PharmacyID != nil {
		pharmacyID = *user.PharmacyID
	}
	token, err := h.generateToken(user.ID, user.Role, pharmacyID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to generate token")
		return
	}

	user.Password = ""
	respondJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

// Pharmacy handlers

type pharmacyRequest struct {
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (h *Handler) createPharmacy(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	var req pharmacyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	ownerID := r.Context().Value(ctxUserID).(int64)
	var id int64
	err := h.db.QueryRowx(`INSERT INTO pharmacies (name, address, latitude, longitude, owner_id) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		req.Name, req.Address, req.Latitude, req.Longitude, ownerID).Scan(&id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create pharmacy")
		return
	}
	respondJSON(w, http.StatusCreated, domain.Pharmacy{
		ID: id, Name: req.Name, Address: req.Address, Latitude: req.Latitude, Longitude: req.Longitude, OwnerID: &ownerID,
	})
}

func (h *Handler) listPharmacies(w http.ResponseWriter, r *http.Request) {
	var pharmacies []domain.Pharmacy
	if err := h.db.Select(&pharmacies, `SELECT id, name, address, latitude, longitude, owner_id, created_at FROM pharmacies`); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list pharmacies")
		return
	}
	respondJSON(w, http.StatusOK, pharmacies)
}

func (h *Handler) getPharmacy(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid pharmacy id")
		return
	}
	var pharmacy domain.Pharmacy
	if err := h.db.Get(&pharmacy, `SELECT id, name, address, latitude, longitude, owner_id, created_at FROM pharmacies WHERE id = ?`, id); err != nil {
		respondError(w, http.StatusNotFound, "pharmacy not found")
		return
	}
	respondJSON(w, http.StatusOK, pharmacy)
}

// nearbyPharmacies filters the full pharmacy set by haversine distance
// from the query point, closest first, with the distance attached.
func (h *Handler) nearbyPharmacies(w http.ResponseWriter, r *http.Request) {
	latStr := r.URL.Query().Get("lat")
	lngStr := r.URL.Query().Get("lng")
	if latStr == "" || lngStr == "" {
		respondError(w, http.StatusBadRequest, "latitude and longitude required")
		return
	}
	lat, latErr := strconv.ParseFloat(latStr, 64)
	lng, lngErr := strconv.ParseFloat(lngStr, 64)
	if latErr != nil || lngErr != nil {
		respondError(w, http.StatusBadRequest, "latitude and longitude must be numeric")
		return
	}
	radius := defaultRadiusMeters
	if radiusStr := r.URL.Query().Get("radius"); radiusStr != "" {
		parsed, err := strconv.ParseFloat(radiusStr, 64)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "radius must be a positive number of meters")
			return
		}
		radius = parsed
	}

	var pharmacies []domain.Pharmacy
	if err := h.db.Select(&pharmacies, `SELECT id, name, address, latitude, longitude, owner_id, created_at FROM pharmacies`); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list pharmacies")
		return
	}

	nearby := make([]domain.PharmacyWithDistance, 0, len(pharmacies))
	for _, p := range pharmacies {
		d := domain.Distance(lat, lng, p.Latitude, p.Longitude)
		if d <= radius {
			nearby = append(nearby, domain.PharmacyWithDistance{Pharmacy: p, Distance: d})
		}
	}
	sort.Slice(nearby, func(i, j int) bool { return nearby[i].Distance < nearby[j].Distance })
	respondJSON(w, http.StatusOK, nearby)
}

// Medicine handlers

type medicineRequest struct {
	Name        string          `json:"name"`
	Brand       string          `json:"brand,omitempty"`
	Description string          `json:"description,omitempty"`
	SKU         string          `json:"sku,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (h *Handler) createMedicine(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	var req medicineRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.UnitPrice.IsNegative() {
		respondError(w, http.StatusBadRequest, "name and a non-negative unit_price are required")
		return
	}
	var id int64
	err := h.db.QueryRowx(`INSERT INTO medicines (name, brand, description, sku, unit_price) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		req.Name, req.Brand, req.Description, req.SKU, req.UnitPrice).Scan(&id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create medicine")
		return
	}
	respondJSON(w, http.StatusCreated, domain.Medicine{
		ID: id, Name: req.Name, Brand: req.Brand, Description: req.Description, SKU: req.SKU, UnitPrice: req.UnitPrice,
	})
}

func (h *Handler) listMedicines(w http.ResponseWriter, r *http.Request) {
	var medicines []domain.Medicine
	if err := h.db.Select(&medicines, `SELECT id, name, brand, description, sku, unit_price, created_at FROM medicines ORDER BY name`); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list medicines")
		return
	}
	respondJSON(w, http.StatusOK, medicines)
}

func (h *Handler) medicinesForPharmacy(w http.ResponseWriter, r *http.Request) {
	pharmacyID, err := strconv.ParseInt(chi.URLParam(r, "pharmacyId"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid pharmacy id")
		return
	}
	items, err := h.ledger.ListByPharmacy(r.Context(), pharmacyID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// Inventory handlers

type inventoryRequest struct {
	PharmacyID int64 `json:"pharmacy_id"`
	MedicineID int64 `json:"medicine_id"`
	Quantity   int64 `json:"quantity"`
}

func (h *Handler) upsertInventory(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	var req inventoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PharmacyID == 0 || req.MedicineID == 0 || req.Quantity < 0 {
		respondError(w, http.StatusBadRequest, "pharmacy_id, medicine_id and a non-negative quantity are required")
		return
	}
	item, err := h.ledger.SetQuantity(r.Context(), req.PharmacyID, req.MedicineID, req.Quantity)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (h *Handler) inventoryForPharmacy(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	pharmacyID, err := strconv.ParseInt(chi.URLParam(r, "pharmacyId"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid pharmacy id")
		return
	}
	items, err := h.ledger.ListByPharmacy(r.Context(), pharmacyID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// Order handlers

type orderRequest struct {
	PharmacyID int64             `json:"pharmacy_id"`
	Items      []order.LineInput `json:"items"`
	PickupTime string            `json:"pickup_time,omitempty"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PharmacyID == 0 {
		respondError(w, http.StatusBadRequest, "pharmacy_id is required")
		return
	}
	var pickup *time.Time
	if req.PickupTime != "" {
		parsed, err := time.Parse(time.RFC3339, req.PickupTime)
		if err != nil {
			respondError(w, http.StatusBadRequest, "pickup_time must be RFC 3339")
			return
		}
		pickup = &parsed
	}
	customerID := r.Context().Value(ctxUserID).(int64)
	ord, err := h.orders.Place(r.Context(), customerID, req.PharmacyID, req.Items, pickup)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, ord)
}

func (h *Handler) customerOrders(w http.ResponseWriter, r *http.Request) {
	customerID := r.Context().Value(ctxUserID).(int64)
	orders, err := h.orders.ListForCustomer(r.Context(), customerID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handler) pharmacyOrders(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	pharmacyID, err := strconv.ParseInt(chi.URLParam(r, "pharmacyId"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid pharmacy id")
		return
	}
	orders, err := h.orders.ListForPharmacy(r.Context(), pharmacyID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ord, err := h.orders.UpdateStatus(r.Context(), id, domain.Status(req.Status))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ord)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	ord, err := h.orders.Get(r.Context(), id, principalFrom(r))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ord)
}

// Helpers

// respondDomainError maps service-layer errors onto status codes.
// Anything unclassified is logged and reported generically.
func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrEmptyOrder),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidPrice):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrPharmacyNotFound),
		errors.Is(err, domain.ErrMedicineNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
