package model

// Style - 스타일 프리셋
type Style string

const (
	StyleCinematic   Style = "cinematic"
	StyleAnime       Style = "anime"
	StyleRealistic   Style = "realistic"
	StyleFantasy     Style = "fantasy"
	StyleCyberpunk   Style = "cyberpunk"
	StyleWatercolor  Style = "watercolor"
	StyleOilPainting Style = "oil-painting"
	Style3DRender    Style = "3d-render"

	DefaultStyle = StyleRealistic
)

// Styles - 화면 노출 순서
var Styles = []Style{
	StyleCinematic,
	StyleAnime,
	StyleRealistic,
	StyleFantasy,
	StyleCyberpunk,
	StyleWatercolor,
	StyleOilPainting,
	Style3DRender,
}

// Valid - 알려진 프리셋인지 확인
func (s Style) Valid() bool {
	for _, known := range Styles {
		if s == known {
			return true
		}
	}
	return false
}

// OrDefault - 알 수 없는 값이면 기본 프리셋
func (s Style) OrDefault() Style {
	if s.Valid() {
		return s
	}
	return DefaultStyle
}
