package controller

import (
	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-compute-service/http/controller/dto"
	"github.com/tnqbao/gau-compute-service/utils"
)

// IssueToken exchanges a username for a bearer token. Credential
// verification happens upstream; the token only binds the caller identity
// for the VM endpoints.
func (ctrl *Controller) IssueToken(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.IssueTokenRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSON400(c, "Invalid request payload")
		return
	}

	token, err := utils.GenerateToken(req.Username, ctrl.Config.EnvConfig)
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Auth] Failed to issue token for '%s': %v", req.Username, err)
		utils.JSON500(c, "Failed to issue token")
		return
	}

	utils.JSON200(c, dto.IssueTokenResponseDTO{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   ctrl.Config.EnvConfig.JWT.Expire,
	})
}
