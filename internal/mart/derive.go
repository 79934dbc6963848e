package mart

import "strings"

// stateRegions maps Brazilian state codes to macro-regions.
var stateRegions = map[string]string{
	"AC": "North", "AP": "North", "AM": "North", "PA": "North",
	"RO": "North", "RR": "North", "TO": "North",

	"AL": "Northeast", "BA": "Northeast", "CE": "Northeast", "MA": "Northeast",
	"PB": "Northeast", "PE": "Northeast", "PI": "Northeast", "RN": "Northeast",
	"SE": "Northeast",

	"DF": "Central-West", "GO": "Central-West", "MT": "Central-West", "MS": "Central-West",

	"ES": "Southeast", "MG": "Southeast", "RJ": "Southeast", "SP": "Southeast",

	"PR": "South", "RS": "South", "SC": "South",
}

// largeCities holds cities classified as "Large"; keys are FoldPlace forms.
// Everything else classifies as "Medium" (the source feed carries no
// population data to distinguish "Small").
var largeCities = map[string]struct{}{
	"sao paulo":      {},
	"rio de janeiro": {},
	"brasilia":       {},
	"salvador":       {},
	"fortaleza":      {},
	"belo horizonte": {},
	"manaus":         {},
	"curitiba":       {},
	"recife":         {},
	"porto alegre":   {},
}

// Product classification thresholds. These replace the original tertile split
// with fixed cut points so classification is stable across batches.
const (
	productVolumeSmallMaxCM3  = 1000.0
	productVolumeMediumMaxCM3 = 10000.0

	productWeightLightMaxG  = 500.0
	productWeightMediumMaxG = 2000.0
)

func regionForState(state string) string {
	if r, ok := stateRegions[strings.ToUpper(strings.TrimSpace(state))]; ok {
		return r
	}
	return "Other"
}

func citySize(city string) string {
	if _, ok := largeCities[FoldPlace(city)]; ok {
		return "Large"
	}
	return "Medium"
}

func productSizeCategory(volumeCM3 float64) string {
	switch {
	case volumeCM3 <= productVolumeSmallMaxCM3:
		return "Small"
	case volumeCM3 <= productVolumeMediumMaxCM3:
		return "Medium"
	default:
		return "Large"
	}
}

func productWeightCategory(weightG float64) string {
	switch {
	case weightG <= productWeightLightMaxG:
		return "Light"
	case weightG <= productWeightMediumMaxG:
		return "Medium"
	default:
		return "Heavy"
	}
}

// CustomerSnapshot is the raw customer attribute snapshot from the source feed.
type CustomerSnapshot struct {
	CustomerID    string
	City          string
	State         string
	ZipCodePrefix string
}

// Snapshot validates the raw snapshot and returns the generic loader shape
// with derived attributes (region, city size) attached.
func (c CustomerSnapshot) Snapshot() (Snapshot, error) {
	if strings.TrimSpace(c.CustomerID) == "" {
		return Snapshot{}, &ValidationError{Kind: string(DimCustomer), Field: "customer_id", Reason: "missing business key"}
	}
	if strings.TrimSpace(c.City) == "" {
		return Snapshot{}, &ValidationError{Kind: string(DimCustomer), BusinessKey: c.CustomerID, Field: "customer_city", Reason: "required attribute missing"}
	}
	if strings.TrimSpace(c.State) == "" {
		return Snapshot{}, &ValidationError{Kind: string(DimCustomer), BusinessKey: c.CustomerID, Field: "customer_state", Reason: "required attribute missing"}
	}

	return Snapshot{
		Dimension:   DimCustomer,
		BusinessKey: c.CustomerID,
		Attrs: []Attr{
			{Name: "customer_city", Value: c.City},
			{Name: "customer_state", Value: strings.ToUpper(strings.TrimSpace(c.State))},
			{Name: "customer_zip_code_prefix", Value: c.ZipCodePrefix},
			{Name: "customer_city_size", Value: citySize(c.City)},
			{Name: "customer_region", Value: regionForState(c.State)},
		},
	}, nil
}

// SellerSnapshot is the raw seller attribute snapshot from the source feed.
type SellerSnapshot struct {
	SellerID      string
	City          string
	State         string
	ZipCodePrefix string
}

func (s SellerSnapshot) Snapshot() (Snapshot, error) {
	if strings.TrimSpace(s.SellerID) == "" {
		return Snapshot{}, &ValidationError{Kind: string(DimSeller), Field: "seller_id", Reason: "missing business key"}
	}
	if strings.TrimSpace(s.City) == "" {
		return Snapshot{}, &ValidationError{Kind: string(DimSeller), BusinessKey: s.SellerID, Field: "seller_city", Reason: "required attribute missing"}
	}
	if strings.TrimSpace(s.State) == "" {
		return Snapshot{}, &ValidationError{Kind: string(DimSeller), BusinessKey: s.SellerID, Field: "seller_state", Reason: "required attribute missing"}
	}

	return Snapshot{
		Dimension:   DimSeller,
		BusinessKey: s.SellerID,
		Attrs: []Attr{
			{Name: "seller_city", Value: s.City},
			{Name: "seller_state", Value: strings.ToUpper(strings.TrimSpace(s.State))},
			{Name: "seller_zip_code_prefix", Value: s.ZipCodePrefix},
			{Name: "seller_region", Value: regionForState(s.State)},
			{Name: "seller_city_size", Value: citySize(s.City)},
		},
	}, nil
}

// ProductSnapshot is the raw product attribute snapshot from the source feed.
type ProductSnapshot struct {
	ProductID       string
	CategoryName    string
	CategoryEnglish string
	WeightG         float64
	LengthCM        float64
	HeightCM        float64
	WidthCM         float64
}

func (p ProductSnapshot) Snapshot() (Snapshot, error) {
	if strings.TrimSpace(p.ProductID) == "" {
		return Snapshot{}, &ValidationError{Kind: string(DimProduct), Field: "product_id", Reason: "missing business key"}
	}
	if strings.TrimSpace(p.CategoryName) == "" {
		return Snapshot{}, &ValidationError{Kind: string(DimProduct), BusinessKey: p.ProductID, Field: "product_category_name", Reason: "required attribute missing"}
	}
	if p.WeightG < 0 || p.LengthCM < 0 || p.HeightCM < 0 || p.WidthCM < 0 {
		return Snapshot{}, &ValidationError{Kind: string(DimProduct), BusinessKey: p.ProductID, Field: "dimensions", Reason: "negative measurement"}
	}

	volume := p.LengthCM * p.HeightCM * p.WidthCM

	return Snapshot{
		Dimension:   DimProduct,
		BusinessKey: p.ProductID,
		Attrs: []Attr{
			{Name: "product_category_name", Value: p.CategoryName},
			{Name: "product_category_name_english", Value: p.CategoryEnglish},
			{Name: "product_weight_g", Value: p.WeightG},
			{Name: "product_length_cm", Value: p.LengthCM},
			{Name: "product_height_cm", Value: p.HeightCM},
			{Name: "product_width_cm", Value: p.WidthCM},
			{Name: "product_volume_cm3", Value: volume},
			{Name: "product_size_category", Value: productSizeCategory(volume)},
			{Name: "product_weight_category", Value: productWeightCategory(p.WeightG)},
		},
	}, nil
}
