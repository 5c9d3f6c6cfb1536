package audience

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/lead-sourcing/internal/model"
)

// Page is one mapped page of provider records.
type Page struct {
	Records []model.ExternalRecord
	HasMore bool
	// Skipped counts rows that could not be mapped into ExternalRecord.
	Skipped int
}

// Field aliases observed across provider payload versions. The first
// non-empty alias wins.
var (
	emailKeys     = []string{"email", "business_email", "BUSINESS_EMAIL", "work_email"}
	personalKeys  = []string{"personal_emails", "PERSONAL_EMAILS", "personal_email"}
	firstNameKeys = []string{"first_name", "FIRST_NAME", "firstName"}
	lastNameKeys  = []string{"last_name", "LAST_NAME", "lastName"}
	fullNameKeys  = []string{"full_name", "FULL_NAME", "name"}
	phoneKeys     = []string{"phone", "direct_number", "DIRECT_NUMBER", "company_phone"}
	mobileKeys    = []string{"mobile_phone", "MOBILE_PHONE", "mobile"}
	companyKeys   = []string{"company", "company_name", "COMPANY_NAME"}
	domainKeys    = []string{"company_domain", "COMPANY_DOMAIN", "domain"}
	industryKeys  = []string{"industry", "company_industry", "COMPANY_INDUSTRY"}
	titleKeys     = []string{"job_title", "JOB_TITLE", "title"}
	cityKeys      = []string{"city", "personal_city", "PERSONAL_CITY", "company_city"}
	stateKeys     = []string{"state", "personal_state", "PERSONAL_STATE", "company_state"}
	postalKeys    = []string{"postal_code", "zip", "PERSONAL_ZIP", "company_zip"}
	countryKeys   = []string{"country", "COUNTRY"}
	linkedinKeys  = []string{"linkedin_url", "LINKEDIN_URL", "linkedin"}
	idKeys        = []string{"id", "uuid", "UUID"}
)

// ParsePage maps a raw page body into strict records. The body must be a
// JSON object carrying the rows under "data" (or "records"). Rows that are
// not objects, or whose email fields have the wrong shape, are counted in
// Skipped. A wrong-shape optional field is dropped from its record.
func ParsePage(body []byte) (*Page, error) {
	if !gjson.ValidBytes(body) {
		return nil, eris.New("malformed page body")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, eris.New("page body is not an object")
	}

	rows := root.Get("data")
	if !rows.Exists() {
		rows = root.Get("records")
	}
	if rows.Exists() && !rows.IsArray() {
		return nil, eris.New("page rows are not an array")
	}

	p := &Page{HasMore: root.Get("has_more").Bool()}
	rows.ForEach(func(_, row gjson.Result) bool {
		rec, ok := mapRecord(row)
		if !ok {
			p.Skipped++
			return true
		}
		p.Records = append(p.Records, rec)
		return true
	})

	// Some payload versions report totals instead of has_more.
	if !root.Get("has_more").Exists() {
		if total := root.Get("total_pages"); total.Exists() {
			p.HasMore = root.Get("page").Int() < total.Int()
		}
	}
	return p, nil
}

func mapRecord(row gjson.Result) (model.ExternalRecord, bool) {
	var rec model.ExternalRecord
	if !row.IsObject() {
		return rec, false
	}

	// Wrong-shape values only reject the row when they sit in an email field.
	email, emailOK := scalar(row, emailKeys)
	personal, personalOK := personalEmails(row)
	if !emailOK || !personalOK {
		return rec, false
	}
	rec.Email = email
	rec.PersonalEmails = personal

	opt := func(keys []string) string {
		v, _ := scalar(row, keys)
		return v
	}
	rec.ProviderID = opt(idKeys)
	rec.FirstName = opt(firstNameKeys)
	rec.LastName = opt(lastNameKeys)
	rec.FullName = opt(fullNameKeys)
	rec.Phone = opt(phoneKeys)
	rec.MobilePhone = opt(mobileKeys)
	rec.Company = opt(companyKeys)
	rec.CompanyDomain = opt(domainKeys)
	rec.Industry = opt(industryKeys)
	rec.JobTitle = opt(titleKeys)
	rec.City = opt(cityKeys)
	rec.State = opt(stateKeys)
	rec.PostalCode = opt(postalKeys)
	rec.Country = opt(countryKeys)
	rec.LinkedInURL = opt(linkedinKeys)
	return rec, true
}

// scalar returns the first non-blank string or number under keys. The bool
// is false when some alias held an object, array or boolean.
func scalar(row gjson.Result, keys []string) (string, bool) {
	ok := true
	for _, k := range keys {
		v := row.Get(k)
		switch v.Type {
		case gjson.Null:
			continue
		case gjson.String, gjson.Number:
			if s := strings.TrimSpace(v.String()); s != "" {
				return s, ok
			}
		default:
			ok = false
		}
	}
	return "", ok
}

// personalEmails accepts either an array or a comma-separated string. Any
// other non-null shape reports false.
func personalEmails(row gjson.Result) ([]string, bool) {
	for _, k := range personalKeys {
		v := row.Get(k)
		switch {
		case v.IsArray():
			var out []string
			for _, e := range v.Array() {
				if s := strings.TrimSpace(e.String()); s != "" && e.Type == gjson.String {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out, true
			}
		case v.Type == gjson.String:
			var out []string
			for _, part := range strings.Split(v.String(), ",") {
				if s := strings.TrimSpace(part); s != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out, true
			}
		case v.Exists() && v.Type != gjson.Null:
			return nil, false
		}
	}
	return nil, true
}
