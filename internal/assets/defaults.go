package assets

// DefaultAssets is the built-in dictionary in matching order. The order is
// load-bearing: "EURO FX/BRITISH POUND XRATE" must be tried before "Euro".
var DefaultAssets = []Asset{
	{Code: "ZAR", Label: "South African Rand", Patterns: []string{"So African Rand"}},
	{Code: "GBP", Label: "British Pound Sterling", Patterns: []string{"EURO FX/BRITISH POUND XRATE"}},
	{Code: "COPPER", Label: "Copper Metal", Patterns: []string{"Copper"}},
	{Code: "JPY", Label: "Japanese Yen", Patterns: []string{"Japanese Yen"}},
	{Code: "US10T", Label: "US 10-Year Treasury", Patterns: []string{"ULTRA UST 10Y"}},
	{Code: "USOil", Label: "Crude Oil (WTI)", Patterns: []string{"Crude Oil"}},
	{Code: "EUR", Label: "Euro Currency", Patterns: []string{"Euro"}},
	{Code: "USD", Label: "US Dollar Index", Patterns: []string{"USD INDEX"}},
	{Code: "CAD", Label: "Canadian Dollar (CAD)", Patterns: []string{"Canadian Dollar"}},
	{Code: "SILVER", Label: "Silver Commodity", Patterns: []string{"Silver"}},
	{Code: "CHF", Label: "Swiss Franc (CHF)", Patterns: []string{"Swiss Franc"}},
	{Code: "BTC", Label: "Bitcoin (BTC)", Patterns: []string{"Bitcoin"}},
	{Code: "Gold", Label: "GOLD", Patterns: []string{"GOLD"}},
	{Code: "AUD", Label: "Australian Dollar (AUD)", Patterns: []string{"Australian Dollar"}},
	{Code: "RUSSELL", Label: "Russell 2000 Index", Patterns: []string{"RUSSELL 2000 ANNUAL DIVIDEND"}},
	{Code: "NZD", Label: "New Zealand Dollar", Patterns: []string{"NZ DOLLAR"}},
	{Code: "NIKKEI", Label: "Nikkei 225 Stock Index", Patterns: []string{"NIKKEI STOCK AVERAGE YEN DENOM"}},
	{Code: "PLATINUM", Label: "Platinum Metal", Patterns: []string{"Platinum"}},
	{Code: "NASDAQ", Label: "NASDAQ-100 Index", Patterns: []string{"NASDAQ-100 Consolidated"}},
	{Code: "SPX", Label: "S&P 500 ANNUAL DIVIDEND INDEX", Patterns: []string{"S&P 500 ANNUAL DIVIDEND INDEX", "S&P 500 Index"}},
	{Code: "DOW", Label: "Dow Jones Industrial Average", Patterns: []string{"DOW JONES U.S. REAL ESTATE IDX"}},
}

// Default returns a dictionary built from DefaultAssets.
func Default() *Dictionary {
	d, err := New(DefaultAssets)
	if err != nil {
		panic("assets: invalid default dictionary: " + err.Error())
	}
	return d
}
