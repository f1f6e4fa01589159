package publish

import (
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"lotsync/internal/config"
	"lotsync/internal/model"
)

// 车辆目录 XML Feed 构建。
//
// 目录平台吃的是固定结构的 listings XML：每台车一个 listing，价格
// 必须是 "NNNNN.00 USD" 形式，车身形式必须是平台枚举值。

type xmlListings struct {
	XMLName  xml.Name     `xml:"listings"`
	Title    string       `xml:"title"`
	Listings []xmlListing `xml:"listing"`
}

type xmlListing struct {
	VehicleID      string     `xml:"vehicle_id"`
	Title          string     `xml:"title"`
	Description    string     `xml:"description"`
	URL            string     `xml:"url"`
	Image          xmlImage   `xml:"image"`
	Price          string     `xml:"price"`
	Mileage        xmlMileage `xml:"mileage"`
	BodyStyle      string     `xml:"body_style"`
	StateOfVehicle string     `xml:"state_of_vehicle"`
	Make           string     `xml:"make"`
	Model          string     `xml:"model"`
	Year           string     `xml:"year,omitempty"`
	Trim           string     `xml:"trim,omitempty"`
	ExteriorColor  string     `xml:"exterior_color,omitempty"`
	Address        xmlAddress `xml:"address"`
}

type xmlImage struct {
	URL string `xml:"url"`
}

type xmlMileage struct {
	Unit  string `xml:"unit"`
	Value string `xml:"value"`
}

type xmlAddress struct {
	Format     string         `xml:"format,attr"`
	Components []xmlComponent `xml:"component"`
}

type xmlComponent struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// BuildXMLFeed 把一批车辆记录转成目录 XML Feed。
func BuildXMLFeed(records []model.VehicleRecord, dealer *config.DealerConfig) ([]byte, error) {
	doc := xmlListings{Title: dealer.Name}

	for _, rec := range records {
		mileage := rec.Mileage
		if mileage == "" {
			mileage = "0"
		}
		body := rec.BodyStyle
		if body == "" {
			body = InferBodyStyle(rec.Make, rec.Model, rec.Trim)
		}

		doc.Listings = append(doc.Listings, xmlListing{
			VehicleID:      rec.VIN,
			Title:          rec.Title,
			Description:    rec.Description,
			URL:            rec.Link,
			Image:          xmlImage{URL: rec.ImageURL},
			Price:          PriceDecimal(rec.Price),
			Mileage:        xmlMileage{Unit: "MI", Value: mileage},
			BodyStyle:      body,
			StateOfVehicle: strings.ToUpper(rec.Condition),
			Make:           rec.Make,
			Model:          rec.Model,
			Year:           rec.Year,
			Trim:           rec.Trim,
			ExteriorColor:  rec.ExteriorColor,
			Address: xmlAddress{
				Format: "simple",
				Components: []xmlComponent{
					{Name: "addr1", Value: dealer.Address1},
					{Name: "city", Value: dealer.City},
					{Name: "region", Value: dealer.Region},
					{Name: "postal_code", Value: dealer.PostalCode},
					{Name: "country", Value: dealer.Country},
				},
			},
		})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal feed xml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// PriceDecimal 把 "24995 USD" 转成 Feed 要求的 "24995.00 USD"；
// 空串转 "0.00 USD"。
func PriceDecimal(price string) string {
	if price == "" {
		return "0.00 USD"
	}
	parts := strings.Fields(price)
	if len(parts) == 2 {
		var n int
		if _, err := fmt.Sscanf(parts[0], "%d", &n); err == nil {
			return fmt.Sprintf("%d.00 %s", n, parts[1])
		}
	}
	return price
}

var (
	truckKeywords = []string{
		"F-150", "F150", "F-250", "F250", "F-350", "F350",
		"SILVERADO", "SIERRA", " RAM ", "TUNDRA", "TACOMA",
		"COLORADO", "CANYON", "FRONTIER", "RANGER", "RIDGELINE",
		"TITAN", "AVALANCHE", "DAKOTA",
	}
	minivanKeywords = []string{
		"SIENNA", "ODYSSEY", "PACIFICA", "CARAVAN", "QUEST",
		"SEDONA", "TOWN & COUNTRY", "TOWN AND COUNTRY",
	}
	convertibleKeywords = []string{"CONVERT", "CABRIOLET", "ROADSTER", "SPYDER"}
	coupeKeywords       = []string{
		" Q60", "MUSTANG", "CAMARO", "CHALLENGER", "CORVETTE",
		"370Z", "350Z", "86", "BRZ", "RC ", " TT ", "M4", "M2",
	}
	wagonKeywords     = []string{"WAGON", "ALLROAD", "SPORTBACK", " A4 AVANT", "OUTBACK"}
	hatchbackKeywords = []string{
		" GOLF", " POLO", "HATCHBACK", "5-DOOR", "3-DOOR",
		"FOCUS ST", "FOCUS SE 5", "IMPREZA HATCH",
	}
	suvKeywords = []string{
		"QX", "EXPLORER", "EXPEDITION", "NAVIGATOR", "ESCALADE",
		"SUBURBAN", "TAHOE", "YUKON", "TRAVERSE", "PILOT", "PASSPORT",
		"PATHFINDER", "ARMADA", "HIGHLANDER", "4RUNNER", "SEQUOIA",
		"LAND CRUISER", "MDX", "RDX", "ACADIA", "ENCLAVE", "ENVISION",
		"ATLAS", "TIGUAN", "TOUAREG", "Q7", "Q5", "Q3", "SQ5",
		"X1", "X3", "X5", "X6", "X7", "GLC", "GLE", "GLS", "ML",
		"RX", "GX", "LX", "NX", "UX", "CX-5", "CX-7", "CX-9",
		"CR-V", "HR-V", "ROGUE", "MURANO", "XTERRA",
		"SANTA FE", "TUCSON", "PALISADE", "TELLURIDE", "SPORTAGE",
		"SORENTO", "SOUL", "EQUINOX", "TRAX", "BLAZER", "TRAILBLAZER",
		"COMPASS", "RENEGADE", "WRANGLER", "GRAND CHEROKEE", "CHEROKEE",
		"EDGE", "ESCAPE", "FLEX", "TERRAIN", "VUE", "CAPTIVA",
		"FJ CRUISER", "RAV4", "VENZA", "CROSSOVER",
		"GRAND VITARA", "VITARA", "OUTLANDER", "ECLIPSE CROSS",
		"FORESTER", "CROSSTREK", "ASCENT", "BAJA",
		" EX35", " FX", " JX",
	}
)

// InferBodyStyle 从品牌/车型/配置推断目录平台的车身形式枚举。
//
// 卡车和 MPV 先判，避免 "Tacoma TRD Sport" 这种被 SUV 关键词误伤；
// 都不命中时按 SEDAN 兜底。
func InferBodyStyle(vehicleMake, vehicleModel, trim string) string {
	text := strings.ToUpper(fmt.Sprintf("%s %s %s", vehicleMake, vehicleModel, trim))

	switch {
	case containsAny(text, truckKeywords):
		return "TRUCK"
	case containsAny(text, minivanKeywords):
		return "MINIVAN"
	case containsAny(text, convertibleKeywords):
		return "CONVERTIBLE"
	case containsAny(text, coupeKeywords):
		return "COUPE"
	case containsAny(text, wagonKeywords):
		return "WAGON"
	case containsAny(text, hatchbackKeywords):
		return "HATCHBACK"
	case containsAny(text, suvKeywords):
		return "SUV"
	default:
		return "SEDAN"
	}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// csvFields 是 CSV 备份文件的表头（人工核对用）。
var csvFields = []string{
	"vehicle_id", "title", "description", "price",
	"url", "image_url", "year", "make", "model", "trim",
	"mileage", "exterior_color", "state_of_vehicle",
}

// WriteCSV 把车辆记录写成 CSV 备份文件。
func WriteCSV(records []model.VehicleRecord, path string) error {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer fh.Close()

	w := csv.NewWriter(fh)
	if err := w.Write(csvFields); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.VIN, rec.Title, rec.Description, PriceDecimal(rec.Price),
			rec.Link, rec.ImageURL, rec.Year, rec.Make, rec.Model, rec.Trim,
			rec.Mileage, rec.ExteriorColor, strings.ToUpper(rec.Condition),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
