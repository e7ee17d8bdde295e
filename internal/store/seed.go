package store

import "rotihub/internal/model"

// SeedDemo loads a small Mumbai catalog so a memory-backed instance is usable
// out of the box. Postgres deployments get the same rows from migrations.
func (m *Memory) SeedDemo() {
    m.mu.Lock(); defer m.mu.Unlock()
    chefs := []model.Chef{
        {ID: "chef-anita", Name: "Anita's Kitchen", Latitude: 19.0728, Longitude: 72.8826, Rating: 4.6, HasOffer: true, ServicePincodes: []string{"400070", "400024"}, IsActive: true},
        {ID: "chef-ravi", Name: "Ravi Tiffins", Latitude: 19.0596, Longitude: 72.8295, Rating: 4.1, ServicePincodes: []string{"400050"}, IsActive: true},
        {ID: "chef-meera", Name: "Meera Meals", Latitude: 19.1136, Longitude: 72.8697, Rating: 3.8, HasOffer: true, IsActive: true},
    }
    for _, c := range chefs { m.chefs[c.ID] = c }

    plans := []model.Plan{
        {ID: "plan-roti-daily", Name: "Daily Roti Box", CategoryID: "cat-roti", Frequency: "daily", Price: 2400, Deliveries: 30, IsActive: true},
        {ID: "plan-lunch-weekly", Name: "Weekly Lunch", CategoryID: "cat-lunch", Frequency: "weekly", Price: 1800, Deliveries: 12, SlotScheduled: true, IsActive: true},
        {ID: "plan-dinner-monthly", Name: "Monthly Dinner", CategoryID: "cat-dinner", Frequency: "monthly", Price: 5400, Deliveries: 30, SlotScheduled: true, IsActive: true},
    }
    for _, p := range plans { m.plans[p.ID] = p }

    slots := []model.DeliverySlot{
        {ID: "slot-lunch", Label: "Lunch", StartTime: "12:00", EndTime: "14:00", Capacity: 50, CutoffHoursBefore: 3, IsActive: true},
        {ID: "slot-evening", Label: "Evening", StartTime: "18:00", EndTime: "20:00", Capacity: 50, CutoffHoursBefore: 3, IsActive: true},
    }
    for _, s := range slots { m.slots[s.ID] = s }

    settings := []model.DeliverySetting{
        {ID: "band-near", Name: "0-2 km", MinDistanceKm: 0, MaxDistanceKm: 2, Price: 0, IsActive: true},
        {ID: "band-mid", Name: "2-5 km", MinDistanceKm: 2, MaxDistanceKm: 5, Price: 20, MinOrderAmount: 500, IsActive: true},
        {ID: "band-far", Name: "5-8 km", MinDistanceKm: 5, MaxDistanceKm: 8, Price: 40, MinOrderAmount: 800, IsActive: true},
    }
    for _, s := range settings { m.settings[s.ID] = s }
}
