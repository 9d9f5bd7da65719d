package handler

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"control-despacho/backend/internal/model"
)

var registerOnce sync.Once

// RegisterValidators 在 gin 的校验引擎上注册自定义标签
//   - placa: 1-10 位字母数字车牌（大小写不敏感）
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("placa", func(fl validator.FieldLevel) bool {
			_, ok := model.NormalizePlate(fl.Field().String())
			return ok
		})
	})
}
