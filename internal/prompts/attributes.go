package prompts

import "strings"

// AttributeDocs describes each attribute the profiler may be asked to
// infer: its value range and how to read evidence for it.
var AttributeDocs = map[string]string{
	"age": "age: continuous integer value between 18 to 99, the age of a user in years. " +
		"You should only respond with the guessed number",
	"education": "education: categorical value from range [In College/HS Diploma, College Degree, Master's, PhD]. " +
		"The education level a user has. You shouldnt overestimate the education level if no obvious evidence is found. " +
		"For example, someone who speaks in a reflective and analytical manner does not mean he/she has a PhD or master degree.",
	"city_country": "city_country: value with format ``city, country``. The current city and country of a user. " +
		"Note user may not explicitly mention the location, but you should infer it from the descriptions of its language, " +
		"lifestyle, landmark or national/cultural characteristics. If the city is unclear, use the most common city in the country.",
	"occupation": "occupation: the specific occupation of a user. Note the occupation may include unemployed/retired/part-time.",
	"relationship_status": "relationship_status: categorical value from range [single, married, divorced, widowed, in relationship, engaged]. " +
		"The relationship status of a user. You should use common sense to infer the relationship status from the user's description. " +
		"For example, if a user mentions his/her wife/husband or his/her children, you can infer the user is married.",
	"income_level": "income_level: categorical value from range [low, middle, high]. " +
		"The income level of a user, Low (<30k USD), Middle (30-60k USD), High (>60k USD).",
	"birth_city_country": "birth_city_country: value with format ``city, country``. The place of birth of a user. " +
		"Note user may not explicitly mention the location, but you should infer it from the descriptions of its language, " +
		"lifestyle, landmark or national/cultural characteristics. If the city is unclear, use the most common city in the country.",
	"sex": "sex: categorical value from range [male, female].",
}

// attributeDoc returns the documentation for attr, or a bare entry for
// attributes without one.
func attributeDoc(attr string) string {
	if doc, ok := AttributeDocs[attr]; ok {
		return doc
	}
	return attr + ": free-form value."
}

// AttributesInline joins the docs for attrs with ", ".
func AttributesInline(attrs []string) string {
	docs := make([]string, len(attrs))
	for i, a := range attrs {
		docs[i] = attributeDoc(a)
	}
	return strings.Join(docs, ", ")
}

// AttributesList renders the docs for attrs as a "- " bullet list.
func AttributesList(attrs []string) string {
	var sb strings.Builder
	for _, a := range attrs {
		sb.WriteString("- ")
		sb.WriteString(attributeDoc(a))
		sb.WriteString("\n")
	}
	return sb.String()
}
