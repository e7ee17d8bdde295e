package model

import "time"

// Core domain types for the ordering and subscription service.

type GeoPoint struct {
    Lat float64 `json:"lat"`
    Lng float64 `json:"lng"`
}

// Location is a resolved user position. Coordinates are stored and reloaded
// through JSON as float64, so a save/load round trip is exact.
type Location struct {
    Latitude  float64 `json:"latitude"`
    Longitude float64 `json:"longitude"`
    Pincode   string  `json:"pincode,omitempty"`
    Source    string  `json:"source"` // gps, pincode, address, manual
}

// ZoneResult is the outcome of a delivery-zone evaluation. Message text is a
// presentation concern and is layered on by the handler, not stored here.
type ZoneResult struct {
    Available  bool    `json:"available"`
    DistanceKm float64 `json:"distanceKm"`
}

// Area is an admin-managed delivery area with its pincodes and center point.
type Area struct {
    ID        string   `json:"id"`
    Name      string   `json:"name"`
    Pincodes  []string `json:"pincodes,omitempty"`
    Latitude  float64  `json:"latitude"`
    Longitude float64  `json:"longitude"`
    RadiusKm  float64  `json:"radiusKm,omitempty"`
    IsActive  bool     `json:"isActive"`
}

type AreaInput struct {
    Name      string   `json:"name,omitempty"`
    Pincodes  []string `json:"pincodes,omitempty"`
    Latitude  float64  `json:"latitude,omitempty"`
    Longitude float64  `json:"longitude,omitempty"`
    RadiusKm  float64  `json:"radiusKm,omitempty"`
    IsActive  *bool    `json:"isActive,omitempty"`
}

// AreaMatch is the detector result: which area is current and how it was found.
// Exactly one source is active at a time; a new match replaces the old one.
type AreaMatch struct {
    Name   string `json:"name"`
    Source string `json:"source"` // address, gps, manual, fallback
}

type Chef struct {
    ID              string   `json:"id"`
    Name            string   `json:"name"`
    Latitude        float64  `json:"latitude"`
    Longitude       float64  `json:"longitude"`
    Rating          float64  `json:"rating,omitempty"`
    HasOffer        bool     `json:"hasOffer,omitempty"`
    ServicePincodes []string `json:"servicePincodes,omitempty"`
    IsActive        bool     `json:"isActive"`
}

// Plan is a subscription plan. SlotScheduled categories require a delivery
// slot at subscribe time.
type Plan struct {
    ID            string   `json:"id"`
    Name          string   `json:"name"`
    Description   string   `json:"description,omitempty"`
    CategoryID    string   `json:"categoryId"`
    Frequency     string   `json:"frequency"` // daily, weekly, monthly
    Price         int      `json:"price"`
    DeliveryDays  []string `json:"deliveryDays,omitempty"`
    Items         []string `json:"items,omitempty"`
    Deliveries    int      `json:"deliveries"` // deliveries per paid cycle
    SlotScheduled bool     `json:"slotScheduled"`
    IsActive      bool     `json:"isActive"`
}

type DeliverySlot struct {
    ID                string `json:"id"`
    Label             string `json:"label"`
    StartTime         string `json:"startTime"` // HH:mm
    EndTime           string `json:"endTime"`   // HH:mm
    Capacity          int    `json:"capacity"`
    CurrentOrders     int    `json:"currentOrders"`
    CutoffHoursBefore int    `json:"cutoffHoursBefore,omitempty"`
    IsActive          bool   `json:"isActive"`
}

// Subscription status values. The two-phase activation is explicit: payment
// submission moves pending_payment to awaiting_verification; only the admin
// verify step reaches active and flips IsPaid.
const (
    SubPendingPayment       = "pending_payment"
    SubAwaitingVerification = "awaiting_verification"
    SubActive               = "active"
    SubPaused               = "paused"
    SubExpired              = "expired"
    SubCancelled            = "cancelled"
)

type Subscription struct {
    ID                   string     `json:"id"`
    UserID               string     `json:"userId"`
    PlanID               string     `json:"planId"`
    ChefID               string     `json:"chefId,omitempty"`
    DeliverySlotID       string     `json:"deliverySlotId,omitempty"`
    CustomerName         string     `json:"customerName"`
    Phone                string     `json:"phone"`
    Email                string     `json:"email,omitempty"`
    Address              string     `json:"address"`
    Status               string     `json:"status"`
    IsPaid               bool       `json:"isPaid"`
    PaymentTransactionID string     `json:"paymentTransactionId,omitempty"`
    StartDate            time.Time  `json:"startDate"`
    EndDate              *time.Time `json:"endDate,omitempty"`
    TotalDeliveries      int        `json:"totalDeliveries"`
    RemainingDeliveries  int        `json:"remainingDeliveries"`
    NextDeliveryDate     time.Time  `json:"nextDeliveryDate"`
    NextDeliveryTime     string     `json:"nextDeliveryTime"` // HH:mm
    PauseStartDate       *time.Time `json:"pauseStartDate,omitempty"`
    PauseResumeDate      *time.Time `json:"pauseResumeDate,omitempty"`
    CreatedAt            time.Time  `json:"createdAt"`
    UpdatedAt            time.Time  `json:"updatedAt"`
}

type SubscribeRequest struct {
    PlanID           string `json:"planId"`
    ChefID           string `json:"chefId,omitempty"`
    DeliverySlotID   string `json:"deliverySlotId,omitempty"`
    NextDeliveryTime string `json:"nextDeliveryTime,omitempty"`
    Address          string `json:"address,omitempty"`
}

// PublicSubscribeRequest is the guest path: the account is created implicitly.
type PublicSubscribeRequest struct {
    SubscribeRequest
    CustomerName string `json:"customerName"`
    Phone        string `json:"phone"`
    Email        string `json:"email,omitempty"`
    Address      string `json:"address"`
}

type PauseRequest struct {
    PauseStartDate  string `json:"pauseStartDate,omitempty"`  // YYYY-MM-DD
    PauseResumeDate string `json:"pauseResumeDate,omitempty"` // YYYY-MM-DD
}

// Cart is one per-category cart bound to a single chef.
type Cart struct {
    CategoryID string     `json:"categoryId"`
    ChefID     string     `json:"chefId"`
    ChefName   string     `json:"chefName,omitempty"`
    ChefLat    float64    `json:"chefLat,omitempty"`
    ChefLng    float64    `json:"chefLng,omitempty"`
    Items      []CartItem `json:"items"`
}

type CartItem struct {
    ID       string `json:"id"`
    Name     string `json:"name"`
    Price    int    `json:"price"`
    Quantity int    `json:"quantity"`
}

type CartItemInput struct {
    CategoryID string  `json:"categoryId"`
    ChefID     string  `json:"chefId"`
    ChefName   string  `json:"chefName,omitempty"`
    ChefLat    float64 `json:"chefLat,omitempty"`
    ChefLng    float64 `json:"chefLng,omitempty"`
    ItemID     string  `json:"itemId"`
    Name       string  `json:"name"`
    Price      int     `json:"price"`
    Quantity   int     `json:"quantity"`
}

// DeliverySetting is one admin-configured distance band for the authoritative
// checkout fee. MinOrderAmount, when met by the subtotal, makes delivery free.
type DeliverySetting struct {
    ID             string  `json:"id"`
    Name           string  `json:"name"`
    MinDistanceKm  float64 `json:"minDistanceKm"`
    MaxDistanceKm  float64 `json:"maxDistanceKm"`
    Price          int     `json:"price"`
    MinOrderAmount int     `json:"minOrderAmount,omitempty"`
    IsActive       bool    `json:"isActive"`
}

// Order statuses, in forward progression order.
const (
    OrderPending            = "pending"
    OrderConfirmed          = "confirmed"
    OrderAcceptedByChef     = "accepted_by_chef"
    OrderPreparing          = "preparing"
    OrderPrepared           = "prepared"
    OrderAcceptedByDelivery = "accepted_by_delivery"
    OrderOutForDelivery     = "out_for_delivery"
    OrderDelivered          = "delivered"
    OrderCompleted          = "completed"
    OrderCancelled          = "cancelled"
)

// Payment statuses for orders.
const (
    PaymentPending   = "pending"
    PaymentPaid      = "paid"
    PaymentConfirmed = "confirmed"
)

var orderRank = map[string]int{
    OrderPending:            0,
    OrderConfirmed:          1,
    OrderAcceptedByChef:     2,
    OrderPreparing:          3,
    OrderPrepared:           4,
    OrderAcceptedByDelivery: 5,
    OrderOutForDelivery:     6,
    OrderDelivered:          7,
    OrderCompleted:          8,
}

// CanTransitionOrder reports whether an order may move between statuses. Only
// single forward steps are allowed; cancellation is allowed until the order is
// out for delivery; completed and cancelled are terminal.
func CanTransitionOrder(from, to string) bool {
    if from == to { return false }
    if from == OrderCompleted || from == OrderCancelled { return false }
    if to == OrderCancelled {
        return orderRank[from] < orderRank[OrderOutForDelivery]
    }
    fr, fok := orderRank[from]
    tr, tok := orderRank[to]
    if !fok || !tok { return false }
    return tr == fr+1
}

type Order struct {
    ID            string     `json:"id"`
    UserID        string     `json:"userId"`
    CategoryID    string     `json:"categoryId,omitempty"`
    ChefID        string     `json:"chefId,omitempty"`
    Status        string     `json:"status"`
    PaymentStatus string     `json:"paymentStatus"`
    Items         []CartItem `json:"items"`
    Subtotal      int        `json:"subtotal"`
    DeliveryFee   int        `json:"deliveryFee"`
    Total         int        `json:"total"`
    Address       string     `json:"address"`
    Location      *GeoPoint  `json:"location,omitempty"`
    AssignedTo    string     `json:"assignedTo,omitempty"`
    DeliverySlot  string     `json:"deliverySlotId,omitempty"`
    DeliveryDate  time.Time  `json:"deliveryDate"`
    DeliveryTime  string     `json:"deliveryTime,omitempty"`
    CreatedAt     time.Time  `json:"createdAt"`
    UpdatedAt     time.Time  `json:"updatedAt"`
}

type CheckoutRequest struct {
    CategoryID     string    `json:"categoryId"`
    Address        string    `json:"address"`
    Location       *GeoPoint `json:"location,omitempty"`
    DeliverySlotID string    `json:"deliverySlotId,omitempty"`
}

type User struct {
    ID           string     `json:"id"`
    Name         string     `json:"name"`
    Phone        string     `json:"phone"`
    Email        string     `json:"email,omitempty"`
    Address      string     `json:"address,omitempty"`
    Role         string     `json:"role"` // customer, chef, delivery, admin
    PasswordHash string     `json:"-"`
    Location     *Location  `json:"location,omitempty"`
    Area         *AreaMatch `json:"area,omitempty"`
    CreatedAt    time.Time  `json:"createdAt"`
}

// Webhook is a partner endpoint subscribed to lifecycle events.
type Webhook struct {
    ID     string   `json:"id"`
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret,omitempty"`
}

type WebhookRequest struct {
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret"`
}
