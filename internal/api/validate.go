package api

import (
    "fmt"
    "regexp"
    "strings"

    "rotihub/internal/model"
)

var (
    pincodeRe = regexp.MustCompile(`^\d{5,6}$`)
    phoneRe   = regexp.MustCompile(`^\d{10}$`)
)

func validatePincode(p string) error {
    if !pincodeRe.MatchString(strings.TrimSpace(p)) {
        return fmt.Errorf("pincode must be 5 or 6 digits")
    }
    return nil
}

func validatePhone(p string) error {
    if !phoneRe.MatchString(strings.TrimSpace(p)) {
        return fmt.Errorf("phone must be 10 digits")
    }
    return nil
}

func validateCoords(lat, lng float64) error {
    if lat < -90 || lat > 90 {
        return fmt.Errorf("lat must be in [-90,90]")
    }
    if lng < -180 || lng > 180 {
        return fmt.Errorf("lng must be in [-180,180]")
    }
    return nil
}

func validateSubscribeRequest(req *model.SubscribeRequest, plan model.Plan) error {
    if req.PlanID == "" {
        return fmt.Errorf("planId is required")
    }
    if plan.SlotScheduled && req.DeliverySlotID == "" {
        return fmt.Errorf("deliverySlotId is required for slot-scheduled plans")
    }
    return nil
}

func validatePublicSubscribeRequest(req *model.PublicSubscribeRequest) error {
    if strings.TrimSpace(req.CustomerName) == "" {
        return fmt.Errorf("customerName is required")
    }
    if err := validatePhone(req.Phone); err != nil {
        return err
    }
    if strings.TrimSpace(req.Address) == "" {
        return fmt.Errorf("address is required")
    }
    return nil
}
