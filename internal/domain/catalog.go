package domain

// Product is a purchasable item: a one-off credit topup or a monthly plan.
type Product struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Credits       int    `json:"credits"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	StripePriceID string `json:"-"`
}

// Catalog is the set of topup packages and subscription plans on sale.
type Catalog struct {
	Topups []Product `json:"topups"`
	Plans  []Product `json:"plans"`
}

// Topup returns the topup package with the given id.
func (c Catalog) Topup(id string) (Product, bool) { return find(c.Topups, id) }

// Plan returns the subscription plan with the given id.
func (c Catalog) Plan(id string) (Product, bool) { return find(c.Plans, id) }

// PlanByPrice resolves a plan from the provider's price id.
func (c Catalog) PlanByPrice(priceID string) (Product, bool) {
	for _, p := range c.Plans {
		if p.StripePriceID != "" && p.StripePriceID == priceID {
			return p, true
		}
	}
	return Product{}, false
}

func find(ps []Product, id string) (Product, bool) {
	for _, p := range ps {
		if p.ID == id && p.StripePriceID != "" {
			return p, true
		}
	}
	return Product{}, false
}

// DefaultCatalog builds the catalog from configured price ids. Products whose
// price id is empty are listed but cannot be bought.
func DefaultCatalog(currency, topupSmall, topupLarge, planBasic, planPro string) Catalog {
	if currency == "" {
		currency = "usd"
	}
	return Catalog{
		Topups: []Product{
			{ID: "topup_100", Name: "100 credits", Credits: 100, AmountCents: 999, Currency: currency, StripePriceID: topupSmall},
			{ID: "topup_500", Name: "500 credits", Credits: 500, AmountCents: 3999, Currency: currency, StripePriceID: topupLarge},
		},
		Plans: []Product{
			{ID: "basic", Name: "Basic", Credits: 200, AmountCents: 1499, Currency: currency, StripePriceID: planBasic},
			{ID: "pro", Name: "Pro", Credits: 1000, AmountCents: 4999, Currency: currency, StripePriceID: planPro},
		},
	}
}
