package store

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "rotihub/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
    return p.db.PingContext(ctx)
}

// MigrateDir applies every .sql file in dir in lexical order. Applied file
// names are tracked in schema_migrations so restarts are no-ops.
func (p *Postgres) MigrateDir(dir string) error {
    if _, err := p.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (name text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
        return err
    }
    entries, err := os.ReadDir(dir)
    if err != nil { return err }
    var names []string
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") { names = append(names, e.Name()) }
    }
    sort.Strings(names)
    for _, name := range names {
        var done int
        if err := p.db.QueryRow(`SELECT count(*) FROM schema_migrations WHERE name=$1`, name).Scan(&done); err != nil {
            return err
        }
        if done > 0 { continue }
        body, err := os.ReadFile(filepath.Join(dir, name))
        if err != nil { return err }
        tx, err := p.db.Begin()
        if err != nil { return err }
        if _, err := tx.Exec(string(body)); err != nil {
            _ = tx.Rollback()
            return fmt.Errorf("migration %s: %w", name, err)
        }
        if _, err := tx.Exec(`INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
            _ = tx.Rollback()
            return err
        }
        if err := tx.Commit(); err != nil { return err }
    }
    return nil
}

func toJSON(v any) []byte {
    b, _ := json.Marshal(v)
    return b
}

func nullIfEmpty(s string) any {
    if s == "" { return nil }
    return s
}

// --- Users ---

func (p *Postgres) CreateUser(ctx context.Context, u model.User) (model.User, error) {
    if u.Phone == "" { return model.User{}, fmt.Errorf("%w: phone required", ErrValidation) }
    if u.ID == "" { u.ID = uuid.New().String() }
    if u.Role == "" { u.Role = "customer" }
    u.CreatedAt = time.Now().UTC()
    _, err := p.db.ExecContext(ctx, `INSERT INTO users (id, name, phone, email, address, role, password_hash, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
        u.ID, u.Name, u.Phone, nullIfEmpty(u.Email), nullIfEmpty(u.Address), u.Role, u.PasswordHash, u.CreatedAt)
    if err != nil {
        if strings.Contains(err.Error(), "duplicate key") {
            return model.User{}, fmt.Errorf("%w: phone already registered", ErrConflict)
        }
        return model.User{}, err
    }
    return u, nil
}

func (p *Postgres) scanUser(row *sql.Row) (model.User, error) {
    var u model.User
    var email, address sql.NullString
    var loc, area []byte
    if err := row.Scan(&u.ID, &u.Name, &u.Phone, &email, &address, &u.Role, &u.PasswordHash, &loc, &area, &u.CreatedAt); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return u, ErrNotFound }
        return u, err
    }
    u.Email = email.String
    u.Address = address.String
    if len(loc) > 0 { _ = json.Unmarshal(loc, &u.Location) }
    if len(area) > 0 { _ = json.Unmarshal(area, &u.Area) }
    return u, nil
}

const userCols = `id::text, name, phone, email, address, role, password_hash, location, area, created_at`

func (p *Postgres) GetUser(ctx context.Context, id string) (model.User, error) {
    return p.scanUser(p.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id))
}

func (p *Postgres) UserByPhone(ctx context.Context, phone string) (model.User, error) {
    return p.scanUser(p.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE phone=$1`, phone))
}

func (p *Postgres) SetUserLocation(ctx context.Context, userID string, loc *model.Location) error {
    var v any
    if loc != nil { v = toJSON(loc) }
    res, err := p.db.ExecContext(ctx, `UPDATE users SET location=$2 WHERE id=$1`, userID, v)
    if err != nil { return err }
    return requireRow(res)
}

func (p *Postgres) SetUserArea(ctx context.Context, userID string, area *model.AreaMatch) error {
    var v any
    if area != nil { v = toJSON(area) }
    res, err := p.db.ExecContext(ctx, `UPDATE users SET area=$2 WHERE id=$1`, userID, v)
    if err != nil { return err }
    return requireRow(res)
}

func requireRow(res sql.Result) error {
    n, err := res.RowsAffected()
    if err != nil { return err }
    if n == 0 { return ErrNotFound }
    return nil
}

// --- Areas ---

func (p *Postgres) CreateArea(ctx context.Context, in model.AreaInput) (model.Area, error) {
    if strings.TrimSpace(in.Name) == "" {
        return model.Area{}, fmt.Errorf("%w: name required", ErrValidation)
    }
    a := model.Area{ID: uuid.New().String(), Name: in.Name, Pincodes: in.Pincodes, Latitude: in.Latitude, Longitude: in.Longitude, RadiusKm: in.RadiusKm, IsActive: true}
    if in.IsActive != nil { a.IsActive = *in.IsActive }
    _, err := p.db.ExecContext(ctx, `INSERT INTO areas (id, name, pincodes, lat, lng, radius_km, is_active) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
        a.ID, a.Name, toJSON(a.Pincodes), a.Latitude, a.Longitude, a.RadiusKm, a.IsActive)
    if err != nil { return model.Area{}, err }
    return a, nil
}

func scanArea(rows interface{ Scan(...any) error }) (model.Area, error) {
    var a model.Area
    var pincodes []byte
    if err := rows.Scan(&a.ID, &a.Name, &pincodes, &a.Latitude, &a.Longitude, &a.RadiusKm, &a.IsActive); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return a, ErrNotFound }
        return a, err
    }
    if len(pincodes) > 0 { _ = json.Unmarshal(pincodes, &a.Pincodes) }
    return a, nil
}

const areaCols = `id::text, name, pincodes, lat, lng, radius_km, is_active`

func (p *Postgres) ListAreas(ctx context.Context, activeOnly bool) ([]model.Area, error) {
    q := `SELECT ` + areaCols + ` FROM areas`
    if activeOnly { q += ` WHERE is_active` }
    q += ` ORDER BY name`
    rows, err := p.db.QueryContext(ctx, q)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Area{}
    for rows.Next() {
        a, err := scanArea(rows)
        if err != nil { return nil, err }
        out = append(out, a)
    }
    return out, rows.Err()
}

func (p *Postgres) GetArea(ctx context.Context, id string) (model.Area, error) {
    return scanArea(p.db.QueryRowContext(ctx, `SELECT `+areaCols+` FROM areas WHERE id=$1`, id))
}

func (p *Postgres) PatchArea(ctx context.Context, id string, in model.AreaInput) (model.Area, error) {
    a, err := p.GetArea(ctx, id)
    if err != nil { return model.Area{}, err }
    if in.Name != "" { a.Name = in.Name }
    if in.Pincodes != nil { a.Pincodes = in.Pincodes }
    if in.Latitude != 0 { a.Latitude = in.Latitude }
    if in.Longitude != 0 { a.Longitude = in.Longitude }
    if in.RadiusKm != 0 { a.RadiusKm = in.RadiusKm }
    if in.IsActive != nil { a.IsActive = *in.IsActive }
    _, err = p.db.ExecContext(ctx, `UPDATE areas SET name=$2, pincodes=$3, lat=$4, lng=$5, radius_km=$6, is_active=$7 WHERE id=$1`,
        id, a.Name, toJSON(a.Pincodes), a.Latitude, a.Longitude, a.RadiusKm, a.IsActive)
    if err != nil { return model.Area{}, err }
    return a, nil
}

func (p *Postgres) DeleteArea(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM areas WHERE id=$1`, id)
    if err != nil { return err }
    return requireRow(res)
}

// --- Catalog ---

func (p *Postgres) ListChefs(ctx context.Context) ([]model.Chef, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, name, lat, lng, rating, has_offer, service_pincodes, is_active FROM chefs WHERE is_active ORDER BY name`)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Chef{}
    for rows.Next() {
        var c model.Chef
        var pincodes []byte
        if err := rows.Scan(&c.ID, &c.Name, &c.Latitude, &c.Longitude, &c.Rating, &c.HasOffer, &pincodes, &c.IsActive); err != nil { return nil, err }
        if len(pincodes) > 0 { _ = json.Unmarshal(pincodes, &c.ServicePincodes) }
        out = append(out, c)
    }
    return out, rows.Err()
}

func (p *Postgres) GetChef(ctx context.Context, id string) (model.Chef, error) {
    var c model.Chef
    var pincodes []byte
    err := p.db.QueryRowContext(ctx, `SELECT id::text, name, lat, lng, rating, has_offer, service_pincodes, is_active FROM chefs WHERE id=$1`, id).
        Scan(&c.ID, &c.Name, &c.Latitude, &c.Longitude, &c.Rating, &c.HasOffer, &pincodes, &c.IsActive)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) { return c, ErrNotFound }
        return c, err
    }
    if len(pincodes) > 0 { _ = json.Unmarshal(pincodes, &c.ServicePincodes) }
    return c, nil
}

func (p *Postgres) ListPlans(ctx context.Context) ([]model.Plan, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, doc FROM plans WHERE is_active ORDER BY name`)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Plan{}
    for rows.Next() {
        var id string
        var doc []byte
        if err := rows.Scan(&id, &doc); err != nil { return nil, err }
        var pl model.Plan
        if err := json.Unmarshal(doc, &pl); err != nil { return nil, err }
        pl.ID = id
        out = append(out, pl)
    }
    return out, rows.Err()
}

func (p *Postgres) GetPlan(ctx context.Context, id string) (model.Plan, error) {
    var doc []byte
    if err := p.db.QueryRowContext(ctx, `SELECT doc FROM plans WHERE id=$1`, id).Scan(&doc); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return model.Plan{}, ErrNotFound }
        return model.Plan{}, err
    }
    var pl model.Plan
    if err := json.Unmarshal(doc, &pl); err != nil { return model.Plan{}, err }
    pl.ID = id
    return pl, nil
}

func (p *Postgres) ListDeliverySlots(ctx context.Context) ([]model.DeliverySlot, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, label, start_time, end_time, capacity, current_orders, cutoff_hours, is_active FROM delivery_slots WHERE is_active ORDER BY start_time`)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.DeliverySlot{}
    for rows.Next() {
        var s model.DeliverySlot
        if err := rows.Scan(&s.ID, &s.Label, &s.StartTime, &s.EndTime, &s.Capacity, &s.CurrentOrders, &s.CutoffHoursBefore, &s.IsActive); err != nil { return nil, err }
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) GetDeliverySlot(ctx context.Context, id string) (model.DeliverySlot, error) {
    var s model.DeliverySlot
    err := p.db.QueryRowContext(ctx, `SELECT id::text, label, start_time, end_time, capacity, current_orders, cutoff_hours, is_active FROM delivery_slots WHERE id=$1`, id).
        Scan(&s.ID, &s.Label, &s.StartTime, &s.EndTime, &s.Capacity, &s.CurrentOrders, &s.CutoffHoursBefore, &s.IsActive)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) { return s, ErrNotFound }
        return s, err
    }
    return s, nil
}

func (p *Postgres) ListDeliverySettings(ctx context.Context) ([]model.DeliverySetting, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, name, min_km, max_km, price, min_order_amount, is_active FROM delivery_settings ORDER BY min_km`)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.DeliverySetting{}
    for rows.Next() {
        var s model.DeliverySetting
        if err := rows.Scan(&s.ID, &s.Name, &s.MinDistanceKm, &s.MaxDistanceKm, &s.Price, &s.MinOrderAmount, &s.IsActive); err != nil { return nil, err }
        out = append(out, s)
    }
    return out, rows.Err()
}

// reserveSlotTx consumes one unit of slot capacity inside the caller's
// transaction. The guard lives in the UPDATE predicate, so a full slot is a
// zero-row update and no increment ever overshoots capacity.
func reserveSlotTx(ctx context.Context, tx *sql.Tx, slotID string) error {
    res, err := tx.ExecContext(ctx, `UPDATE delivery_slots SET current_orders=current_orders+1
        WHERE id=$1 AND (capacity <= 0 OR current_orders < capacity)`, slotID)
    if err != nil { return err }
    n, err := res.RowsAffected()
    if err != nil { return err }
    if n == 0 {
        var exists int
        if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM delivery_slots WHERE id=$1`, slotID).Scan(&exists); err != nil {
            return err
        }
        if exists == 0 { return fmt.Errorf("%w: unknown delivery slot", ErrValidation) }
        return fmt.Errorf("%w: delivery slot is full", ErrConflict)
    }
    return nil
}

// --- Subscriptions ---
// Stored as a doc column plus indexed user_id/status so the lifecycle engine
// sees the identical struct either backend loads.

func (p *Postgres) CreateSubscription(ctx context.Context, s model.Subscription) (model.Subscription, error) {
    if s.ID == "" { s.ID = uuid.New().String() }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.Subscription{}, err }
    defer func() { _ = tx.Rollback() }()
    if s.DeliverySlotID != "" {
        if err := reserveSlotTx(ctx, tx, s.DeliverySlotID); err != nil { return model.Subscription{}, err }
    }
    if _, err := tx.ExecContext(ctx, `INSERT INTO subscriptions (id, user_id, status, doc, created_at) VALUES ($1,$2,$3,$4,$5)`,
        s.ID, s.UserID, s.Status, toJSON(s), s.CreatedAt); err != nil {
        return model.Subscription{}, err
    }
    if err := tx.Commit(); err != nil { return model.Subscription{}, err }
    return s, nil
}

func (p *Postgres) GetSubscription(ctx context.Context, id string) (model.Subscription, error) {
    var doc []byte
    if err := p.db.QueryRowContext(ctx, `SELECT doc FROM subscriptions WHERE id=$1`, id).Scan(&doc); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return model.Subscription{}, ErrNotFound }
        return model.Subscription{}, err
    }
    var s model.Subscription
    if err := json.Unmarshal(doc, &s); err != nil { return model.Subscription{}, err }
    return s, nil
}

func (p *Postgres) ListSubscriptionsForUser(ctx context.Context, userID string) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT doc FROM subscriptions WHERE user_id=$1 ORDER BY created_at`, userID)
    if err != nil { return nil, err }
    return collectSubs(rows)
}

func (p *Postgres) ListSubscriptions(ctx context.Context, status, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if status != "" {
        if cursor != "" {
            rows, err = p.db.QueryContext(ctx, `SELECT doc FROM subscriptions WHERE status=$1 AND id::text > $2 ORDER BY id LIMIT $3`, status, cursor, limit)
        } else {
            rows, err = p.db.QueryContext(ctx, `SELECT doc FROM subscriptions WHERE status=$1 ORDER BY id LIMIT $2`, status, limit)
        }
    } else {
        if cursor != "" {
            rows, err = p.db.QueryContext(ctx, `SELECT doc FROM subscriptions WHERE id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
        } else {
            rows, err = p.db.QueryContext(ctx, `SELECT doc FROM subscriptions ORDER BY id LIMIT $1`, limit)
        }
    }
    if err != nil { return nil, "", err }
    out, err := collectSubs(rows)
    if err != nil { return nil, "", err }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, nil
}

func collectSubs(rows *sql.Rows) ([]model.Subscription, error) {
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var doc []byte
        if err := rows.Scan(&doc); err != nil { return nil, err }
        var s model.Subscription
        if err := json.Unmarshal(doc, &s); err != nil { return nil, err }
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) UpdateSubscription(ctx context.Context, id string, mutate func(*model.Subscription) error) (model.Subscription, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.Subscription{}, err }
    defer func() { _ = tx.Rollback() }()
    var doc []byte
    if err := tx.QueryRowContext(ctx, `SELECT doc FROM subscriptions WHERE id=$1 FOR UPDATE`, id).Scan(&doc); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return model.Subscription{}, ErrNotFound }
        return model.Subscription{}, err
    }
    var s model.Subscription
    if err := json.Unmarshal(doc, &s); err != nil { return model.Subscription{}, err }
    if err := mutate(&s); err != nil { return model.Subscription{}, err }
    if _, err := tx.ExecContext(ctx, `UPDATE subscriptions SET status=$2, doc=$3 WHERE id=$1`, id, s.Status, toJSON(s)); err != nil {
        return model.Subscription{}, err
    }
    if err := tx.Commit(); err != nil { return model.Subscription{}, err }
    return s, nil
}

func (p *Postgres) SweepSubscriptions(ctx context.Context, now time.Time, mutate func(*model.Subscription) bool) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT doc FROM subscriptions WHERE status IN ('active','paused')`)
    if err != nil { return nil, err }
    candidates, err := collectSubs(rows)
    if err != nil { return nil, err }
    var changed []model.Subscription
    for _, s := range candidates {
        if !mutate(&s) { continue }
        if _, err := p.db.ExecContext(ctx, `UPDATE subscriptions SET status=$2, doc=$3 WHERE id=$1`, s.ID, s.Status, toJSON(s)); err != nil {
            return changed, err
        }
        changed = append(changed, s)
    }
    return changed, nil
}

// --- Carts ---

func (p *Postgres) ListCarts(ctx context.Context, userID string) ([]model.Cart, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT doc FROM carts WHERE user_id=$1 ORDER BY category_id`, userID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Cart{}
    for rows.Next() {
        var doc []byte
        if err := rows.Scan(&doc); err != nil { return nil, err }
        var c model.Cart
        if err := json.Unmarshal(doc, &c); err != nil { return nil, err }
        out = append(out, c)
    }
    return out, rows.Err()
}

func (p *Postgres) GetCart(ctx context.Context, userID, categoryID string) (model.Cart, error) {
    var doc []byte
    err := p.db.QueryRowContext(ctx, `SELECT doc FROM carts WHERE user_id=$1 AND category_id=$2`, userID, categoryID).Scan(&doc)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) { return model.Cart{}, ErrNotFound }
        return model.Cart{}, err
    }
    var c model.Cart
    if err := json.Unmarshal(doc, &c); err != nil { return model.Cart{}, err }
    return c, nil
}

func (p *Postgres) UpsertCartItem(ctx context.Context, userID string, in model.CartItemInput) (model.Cart, error) {
    if in.CategoryID == "" || in.ChefID == "" || in.ItemID == "" {
        return model.Cart{}, fmt.Errorf("%w: categoryId, chefId and itemId are required", ErrValidation)
    }
    if in.Quantity <= 0 { in.Quantity = 1 }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.Cart{}, err }
    defer func() { _ = tx.Rollback() }()
    var doc []byte
    var c model.Cart
    err = tx.QueryRowContext(ctx, `SELECT doc FROM carts WHERE user_id=$1 AND category_id=$2 FOR UPDATE`, userID, in.CategoryID).Scan(&doc)
    switch {
    case errors.Is(err, sql.ErrNoRows):
        c = model.Cart{CategoryID: in.CategoryID, ChefID: in.ChefID, ChefName: in.ChefName, ChefLat: in.ChefLat, ChefLng: in.ChefLng}
    case err != nil:
        return model.Cart{}, err
    default:
        if err := json.Unmarshal(doc, &c); err != nil { return model.Cart{}, err }
        if len(c.Items) > 0 && c.ChefID != in.ChefID {
            return c, fmt.Errorf("%w: cart holds items from another chef", ErrConflict)
        }
        if len(c.Items) == 0 {
            c = model.Cart{CategoryID: in.CategoryID, ChefID: in.ChefID, ChefName: in.ChefName, ChefLat: in.ChefLat, ChefLng: in.ChefLng}
        }
    }
    found := false
    for i := range c.Items {
        if c.Items[i].ID == in.ItemID {
            c.Items[i].Quantity += in.Quantity
            found = true
            break
        }
    }
    if !found {
        c.Items = append(c.Items, model.CartItem{ID: in.ItemID, Name: in.Name, Price: in.Price, Quantity: in.Quantity})
    }
    if _, err := tx.ExecContext(ctx, `INSERT INTO carts (user_id, category_id, doc) VALUES ($1,$2,$3)
        ON CONFLICT (user_id, category_id) DO UPDATE SET doc=EXCLUDED.doc`, userID, in.CategoryID, toJSON(c)); err != nil {
        return model.Cart{}, err
    }
    if err := tx.Commit(); err != nil { return model.Cart{}, err }
    return c, nil
}

func (p *Postgres) UpdateCartItemQuantity(ctx context.Context, userID, itemID string, quantity int) (model.Cart, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.Cart{}, err }
    defer func() { _ = tx.Rollback() }()
    rows, err := tx.QueryContext(ctx, `SELECT category_id, doc FROM carts WHERE user_id=$1 FOR UPDATE`, userID)
    if err != nil { return model.Cart{}, err }
    type row struct {
        cat string
        c   model.Cart
    }
    var all []row
    for rows.Next() {
        var cat string
        var doc []byte
        if err := rows.Scan(&cat, &doc); err != nil { rows.Close(); return model.Cart{}, err }
        var c model.Cart
        if err := json.Unmarshal(doc, &c); err != nil { rows.Close(); return model.Cart{}, err }
        all = append(all, row{cat, c})
    }
    rows.Close()
    for _, r := range all {
        for i := range r.c.Items {
            if r.c.Items[i].ID != itemID { continue }
            if quantity <= 0 {
                r.c.Items = append(r.c.Items[:i], r.c.Items[i+1:]...)
            } else {
                r.c.Items[i].Quantity = quantity
            }
            if len(r.c.Items) == 0 {
                if _, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE user_id=$1 AND category_id=$2`, userID, r.cat); err != nil {
                    return model.Cart{}, err
                }
            } else if _, err := tx.ExecContext(ctx, `UPDATE carts SET doc=$3 WHERE user_id=$1 AND category_id=$2`, userID, r.cat, toJSON(r.c)); err != nil {
                return model.Cart{}, err
            }
            if err := tx.Commit(); err != nil { return model.Cart{}, err }
            return r.c, nil
        }
    }
    return model.Cart{}, ErrNotFound
}

func (p *Postgres) ClearCart(ctx context.Context, userID, categoryID string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM carts WHERE user_id=$1 AND category_id=$2`, userID, categoryID)
    if err != nil { return err }
    return requireRow(res)
}

// --- Orders ---

func (p *Postgres) CreateOrder(ctx context.Context, o model.Order) (model.Order, error) {
    if o.ID == "" { o.ID = uuid.New().String() }
    now := time.Now().UTC()
    if o.CreatedAt.IsZero() { o.CreatedAt = now }
    o.UpdatedAt = now
    if o.Status == "" { o.Status = model.OrderPending }
    if o.PaymentStatus == "" { o.PaymentStatus = model.PaymentPending }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.Order{}, err }
    defer func() { _ = tx.Rollback() }()
    if o.DeliverySlot != "" {
        if err := reserveSlotTx(ctx, tx, o.DeliverySlot); err != nil { return model.Order{}, err }
    }
    if _, err := tx.ExecContext(ctx, `INSERT INTO orders (id, user_id, status, doc, created_at) VALUES ($1,$2,$3,$4,$5)`,
        o.ID, o.UserID, o.Status, toJSON(o), o.CreatedAt); err != nil {
        return model.Order{}, err
    }
    if err := tx.Commit(); err != nil { return model.Order{}, err }
    return o, nil
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (model.Order, error) {
    var doc []byte
    if err := p.db.QueryRowContext(ctx, `SELECT doc FROM orders WHERE id=$1`, id).Scan(&doc); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return model.Order{}, ErrNotFound }
        return model.Order{}, err
    }
    var o model.Order
    if err := json.Unmarshal(doc, &o); err != nil { return model.Order{}, err }
    return o, nil
}

func (p *Postgres) ListOrders(ctx context.Context, userID, status, cursor string, limit int) ([]model.Order, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    where := []string{}
    args := []any{}
    if userID != "" {
        args = append(args, userID)
        where = append(where, fmt.Sprintf("user_id=$%d", len(args)))
    }
    if status != "" {
        args = append(args, status)
        where = append(where, fmt.Sprintf("status=$%d", len(args)))
    }
    if cursor != "" {
        args = append(args, cursor)
        where = append(where, fmt.Sprintf("id::text > $%d", len(args)))
    }
    q := `SELECT doc FROM orders`
    if len(where) > 0 { q += ` WHERE ` + strings.Join(where, " AND ") }
    args = append(args, limit)
    q += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Order{}
    for rows.Next() {
        var doc []byte
        if err := rows.Scan(&doc); err != nil { return nil, "", err }
        var o model.Order
        if err := json.Unmarshal(doc, &o); err != nil { return nil, "", err }
        out = append(out, o)
    }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, rows.Err()
}

func (p *Postgres) updateOrder(ctx context.Context, id string, mutate func(*model.Order) error) (model.Order, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.Order{}, err }
    defer func() { _ = tx.Rollback() }()
    var doc []byte
    if err := tx.QueryRowContext(ctx, `SELECT doc FROM orders WHERE id=$1 FOR UPDATE`, id).Scan(&doc); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return model.Order{}, ErrNotFound }
        return model.Order{}, err
    }
    var o model.Order
    if err := json.Unmarshal(doc, &o); err != nil { return model.Order{}, err }
    if err := mutate(&o); err != nil { return model.Order{}, err }
    o.UpdatedAt = time.Now().UTC()
    if _, err := tx.ExecContext(ctx, `UPDATE orders SET status=$2, doc=$3 WHERE id=$1`, id, o.Status, toJSON(o)); err != nil {
        return model.Order{}, err
    }
    if err := tx.Commit(); err != nil { return model.Order{}, err }
    return o, nil
}

func (p *Postgres) UpdateOrderStatus(ctx context.Context, id, status string) (model.Order, error) {
    return p.updateOrder(ctx, id, func(o *model.Order) error {
        if !model.CanTransitionOrder(o.Status, status) {
            return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, status)
        }
        o.Status = status
        return nil
    })
}

func (p *Postgres) AssignOrder(ctx context.Context, id, courierID string) (model.Order, error) {
    return p.updateOrder(ctx, id, func(o *model.Order) error {
        o.AssignedTo = courierID
        return nil
    })
}

// --- Webhooks ---

func (p *Postgres) CreateWebhook(ctx context.Context, req model.WebhookRequest) (model.Webhook, error) {
    w := model.Webhook{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhooks (id, url, events, secret) VALUES ($1,$2,$3,$4)`,
        w.ID, w.URL, toJSON(w.Events), w.Secret)
    if err != nil { return model.Webhook{}, err }
    return w, nil
}

func (p *Postgres) ListWebhooks(ctx context.Context) ([]model.Webhook, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, events, secret FROM webhooks ORDER BY id`)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Webhook{}
    for rows.Next() {
        var w model.Webhook
        var events []byte
        if err := rows.Scan(&w.ID, &w.URL, &events, &w.Secret); err != nil { return nil, err }
        _ = json.Unmarshal(events, &w.Events)
        out = append(out, w)
    }
    return out, rows.Err()
}

func (p *Postgres) DeleteWebhook(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id=$1`, id)
    if err != nil { return err }
    return requireRow(res)
}

func (p *Postgres) WebhooksForEvent(ctx context.Context, eventType string) ([]model.Webhook, error) {
    all, err := p.ListWebhooks(ctx)
    if err != nil { return nil, err }
    var out []model.Webhook
    for _, w := range all {
        for _, e := range w.Events {
            if e == eventType || e == "*" { out = append(out, w); break }
        }
    }
    return out, nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, webhookID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, webhook_id, event_type, url, secret, payload, attempts, next_attempt_at) VALUES ($1,$2,$3,$4,$5,$6,0,now())`,
        id, webhookID, eventType, url, secret, payload)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    if limit <= 0 { limit = 50 }
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, webhook_id::text, event_type, url, secret, payload, attempts
        FROM webhook_deliveries WHERE delivered_at IS NULL AND next_attempt_at <= now() ORDER BY next_attempt_at LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.WebhookID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if success {
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET delivered_at=now(), last_error=$2, response_code=$3, latency_ms=$4 WHERE id=$1`,
            id, nullIfEmpty(lastError), responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, next_attempt_at=$2, last_error=$3, response_code=$4, latency_ms=$5 WHERE id=$1`,
        id, nextAttemptAt, nullIfEmpty(lastError), responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func() { _ = tx.Rollback() }()
    if _, err := tx.ExecContext(ctx, `INSERT INTO webhook_dlq (id, webhook_id, event_type, url, payload, attempts, last_error, response_code, latency_ms, failed_at)
        SELECT id, webhook_id, event_type, url, payload, attempts, $2, $3, $4, now() FROM webhook_deliveries WHERE id=$1`,
        id, nullIfEmpty(lastError), responseCode, latencyMs); err != nil {
        return err
    }
    if _, err := tx.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE id=$1`, id); err != nil {
        return err
    }
    return tx.Commit()
}
