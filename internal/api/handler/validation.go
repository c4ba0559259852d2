package handler

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
)

var validatorOnce sync.Once

// registerValidators 注册自定义校验规则；包是否存在由价格表判断（402），这里只校验格式
func registerValidators() {
	validatorOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("credit_pack", func(fl validator.FieldLevel) bool {
				_, err := ident.ParsePackID(fl.Field().String())
				return err == nil
			})
		}
	})
}
