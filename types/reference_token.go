package types

import (
	"strings"

	"github.com/shopspring/decimal"
)

// tokenDecimals число знаков после запятой для токенов, которые принимает кошелёк
var tokenDecimals = map[string]int32{
	"USDC":   6,
	"USDCE":  6,
	"USDC.E": 6,
	"WLD":    18,
}

const defaultTokenDecimals = 18

// TokenDecimals возвращает точность токена
func TokenDecimals(symbol string) int32 {
	if d, ok := tokenDecimals[strings.ToUpper(symbol)]; ok {
		return d
	}
	return defaultTokenDecimals
}

// TokenAmount сумма в минимальных единицах токена, как её передаёт кошелёк
func (i PaymentIntent) TokenAmount() decimal.Decimal {
	return i.Amount.Shift(TokenDecimals(i.Token)).Truncate(0)
}
