package response

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"
)

var matcher = language.NewMatcher([]language.Tag{
	language.English,
	language.Persian,
})

var persian = map[int]string{
	CodeBadRequest:         "درخواست نامعتبر است",
	CodeInvalidTenantKey:   "کلید کاربری وارد نشده یا کوتاه است",
	CodeMessageEmpty:       "متن پیام خالی است",
	CodeFileQuota:          "به حداکثر تعداد فایل رسیده‌اید",
	CodeStorageQuota:       "فضای ذخیره‌سازی شما پر شده است",
	CodeEmptyContent:       "متن قابل استفاده‌ای در فایل پیدا نشد",
	CodeUnauthorized:       "دسترسی مجاز نیست",
	CodeForbidden:          "این عملیات فقط برای مدیر مجاز است",
	CodeChatNotFound:       "گفتگو پیدا نشد",
	CodeDocumentNotFound:   "فایل پیدا نشد",
	CodeTenantNotFound:     "کاربر پیدا نشد",
	CodeUploadTooLarge:     "حجم فایل بیش از حد مجاز است",
	CodeUnsupportedFormat:  "فرمت فایل پشتیبانی نمی‌شود",
	CodeExtractionFailed:   "خواندن محتوای فایل ممکن نشد",
	CodeInternalServer:     "خطای داخلی سرور",
	CodeIndexingFailed:     "نمایه‌سازی فایل ناموفق بود",
	CodeBackendUnavailable: "سرویس مدل زبانی در دسترس نیست",
	CodeStreamInterrupted:  "پاسخ ناقص ماند، دوباره تلاش کنید",
}

// Localize returns the Persian text for code when the request prefers
// Persian, otherwise fallback.
func Localize(c *gin.Context, code int, fallback string) string {
	if c == nil || c.Request == nil {
		return fallback
	}
	if !prefersPersian(c.GetHeader("Accept-Language")) {
		return fallback
	}
	if msg, ok := persian[code]; ok {
		return msg
	}
	return fallback
}

func prefersPersian(acceptLanguage string) bool {
	if acceptLanguage == "" {
		return false
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return false
	}
	_, idx, conf := matcher.Match(tags...)
	return idx == 1 && conf != language.No
}
