package rules

import (
	"errors"
	"strings"
)

// Dominican fiscal receipt types (NCF prefixes)
var ncfTypes = map[string]string{
	"B01": "credito fiscal",
	"B02": "consumidor final",
	"B04": "nota de credito",
	"B14": "regimen especial",
	"B15": "gubernamental",
	"B16": "exportacion",
	"E31": "factura electronica",
	"E32": "nota debito electronica",
	"E33": "nota credito electronica",
	"E34": "compras electronicas",
	"E41": "comprobante compras",
	"E43": "gastos menores",
	"E44": "regimenes especiales",
	"E45": "gubernamental",
}

// NCFType returns the receipt type described by an NCF prefix
func NCFType(ncf string) (string, bool) {
	if len(ncf) < 3 {
		return "", false
	}
	t, ok := ncfTypes[strings.ToUpper(ncf[:3])]
	return t, ok
}

// validateNCF accepts series B (11 chars) and electronic series E (13 chars)
func validateNCF(v string) error {
	v = strings.ToUpper(strings.TrimSpace(v))
	if _, ok := NCFType(v); !ok {
		return errors.New("unknown NCF type")
	}
	want := 11
	if v[0] == 'E' {
		want = 13
	}
	if len(v) != want {
		return errors.New("invalid NCF length")
	}
	if !isAllDigits(v[1:]) {
		return errors.New("NCF sequence must be numeric")
	}
	return nil
}

var rncWeights = [8]int{7, 9, 8, 6, 5, 4, 3, 2}

// validateRNC checks a 9-digit RNC or an 11-digit cedula by check digit
func validateRNC(v string) error {
	d := digitsOnly(v)
	switch len(d) {
	case 9:
		sum := 0
		for i, w := range rncWeights {
			sum += int(d[i]-'0') * w
		}
		check := 11 - sum%11
		switch sum % 11 {
		case 0:
			check = 2
		case 1:
			check = 1
		}
		if int(d[8]-'0') != check {
			return errors.New("RNC check digit mismatch")
		}
		return nil
	case 11:
		sum := 0
		for i := 0; i < 10; i++ {
			n := int(d[i] - '0')
			if i%2 == 1 {
				n *= 2
			}
			sum += n/10 + n%10
		}
		if int(d[10]-'0') != (10-sum%10)%10 {
			return errors.New("cedula check digit mismatch")
		}
		return nil
	default:
		return errors.New("RNC must have 9 or 11 digits")
	}
}
